package docstore

// 字段级原子操作哨兵。Update / Set(merge) 的字段值可以携带这些哨兵，
// 由具体实现翻译为存储端的原子指令（Mongo: $addToSet / $pull / $inc /
// $currentDate / $unset），保证多写者并发下集合与计数器不丢更新。

type UnionOp struct{ Values []any }

type RemoveOp struct{ Values []any }

type IncrementOp struct{ Delta int64 }

type ServerTimestampOp struct{}

type DeleteFieldOp struct{}

// Union 集合并集：把 values 并入数组字段，已存在的元素不重复追加
func Union(values ...any) any { return UnionOp{Values: values} }

// Remove 集合差集：从数组字段中移除 values，元素不存在时为 no-op
func Remove(values ...any) any { return RemoveOp{Values: values} }

// Increment 数值原子自增
func Increment(delta int64) any { return IncrementOp{Delta: delta} }

// ServerTimestamp 服务端时间戳哨兵
func ServerTimestamp() any { return ServerTimestampOp{} }

// DeleteField 删除字段哨兵
func DeleteField() any { return DeleteFieldOp{} }
