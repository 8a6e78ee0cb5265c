package repository

import (
	"context"
	"errors"

	"Crewline/internal/model"

	"gorm.io/gorm"
)

type EmployeeRepo interface {
	GetByID(ctx context.Context, id string) (*model.Employee, error)
	GetByIDs(ctx context.Context, ids []string) ([]*model.Employee, error)
	GetDisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}

type employeeRepoImpl struct {
	db *gorm.DB
}

func NewEmployeeRepo(db *gorm.DB) EmployeeRepo {
	return &employeeRepoImpl{db: db}
}

func (s *employeeRepoImpl) GetByID(ctx context.Context, id string) (*model.Employee, error) {
	emp := &model.Employee{}
	result := s.db.WithContext(ctx).First(emp, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return emp, nil
}

func (s *employeeRepoImpl) GetByIDs(ctx context.Context, ids []string) ([]*model.Employee, error) {
	emps := make([]*model.Employee, 0, len(ids))
	result := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&emps)
	if result.Error != nil {
		return nil, result.Error
	}
	return emps, nil
}

// GetDisplayNames 批量解析展示名，供通话画面与会话列表使用
func (s *employeeRepoImpl) GetDisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	emps, err := s.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(emps))
	for _, e := range emps {
		names[e.ID] = e.Name
	}
	return names, nil
}
