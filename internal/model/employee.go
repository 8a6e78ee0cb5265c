package model

import "time"

// Employee 员工目录（MySQL）。聊天与通话参与者的展示名、头像由此解析。
type Employee struct {
	ID         string    `gorm:"primaryKey;type:varchar(32)" json:"id"`
	CompanyID  string    `gorm:"index;type:varchar(32)" json:"companyId"`
	Name       string    `gorm:"type:varchar(64);not null" json:"name"`
	AvatarURL  string    `gorm:"type:varchar(255)" json:"avatarUrl"`
	Department string    `gorm:"type:varchar(64)" json:"department"`
	Title      string    `gorm:"type:varchar(64)" json:"title"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (Employee) TableName() string { return "employees" }
