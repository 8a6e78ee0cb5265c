package docstore

import (
	"context"
	"errors"
	"strings"
)

// Doc 文档字段集合，值可携带原子哨兵（Union / Remove / Increment 等）
type Doc map[string]any

// Snapshot 某一时刻的文档快照
type Snapshot struct {
	ID     string
	Path   string
	Exists bool
	Data   Doc
}

// Query 集合过滤条件，Filters 全部为等值匹配
type Query struct {
	Filters  map[string]any
	OrderBy  string
	Desc     bool
	Limit    int
	StatusIn map[string][]any // 字段 -> 候选值集合 (IN 语义)
}

// Txn 事务内可用的读写句柄，读写全部基于当前远端状态
type Txn interface {
	Get(path string) (*Snapshot, error)
	Set(path string, data Doc, merge bool)
	Update(path string, fields Doc)
	Delete(path string)
}

// Batch 原子多文档写，Commit 要么全部生效要么全部失败
type Batch interface {
	Set(path string, data Doc, merge bool)
	Update(path string, fields Doc)
	Delete(path string)
	Commit(ctx context.Context) error
}

// Unsubscribe 取消实时订阅，幂等
type Unsubscribe func()

// Store 通用文档存储抽象：CRUD + 实时订阅 + 事务 + 批量原子写。
// 路径统一为 "collection/id"；实时订阅为 at-least-once 重复投递语义，
// 监听回调必须自行幂等。
type Store interface {
	Create(ctx context.Context, collection string, data Doc) (string, error)
	Get(ctx context.Context, path string) (*Snapshot, error)
	Set(ctx context.Context, path string, data Doc, merge bool) error
	Update(ctx context.Context, path string, fields Doc) error
	Delete(ctx context.Context, path string) error
	Find(ctx context.Context, collection string, q Query) ([]*Snapshot, error)
	Listen(collection string, q Query, fn func([]*Snapshot)) (Unsubscribe, error)
	RunTransaction(ctx context.Context, fn func(tx Txn) error) error
	Batch() Batch
}

var (
	ErrNotFound    = errors.New("docstore: document not found")
	ErrInvalidPath = errors.New("docstore: invalid document path")
)

// SplitPath 拆分 "collection/id" 形式的路径
func SplitPath(path string) (collection, id string, err error) {
	idx := strings.IndexByte(path, '/')
	if idx <= 0 || idx == len(path)-1 {
		return "", "", ErrInvalidPath
	}
	return path[:idx], path[idx+1:], nil
}

// JoinPath 拼接文档路径
func JoinPath(collection, id string) string {
	return collection + "/" + id
}
