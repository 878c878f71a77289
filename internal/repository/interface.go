package repository

import "gorm.io/gorm"

// BaseRepository 仓储公共能力
type BaseRepository interface {
	// GetDB 返回底层数据库句柄
	GetDB() *gorm.DB
	// WithTx 返回绑定到指定事务的仓储
	WithTx(tx *gorm.DB) BaseRepository
}

// BaseRepo 各仓储内嵌的公共实现
type BaseRepo struct {
	db *gorm.DB
}

// NewBaseRepo 创建公共仓储
func NewBaseRepo(db *gorm.DB) *BaseRepo {
	return &BaseRepo{db: db}
}

// GetDB 返回底层数据库句柄
func (r *BaseRepo) GetDB() *gorm.DB {
	return r.db
}

// WithTx 返回绑定到指定事务的公共仓储
func (r *BaseRepo) WithTx(tx *gorm.DB) *BaseRepo {
	return &BaseRepo{db: tx}
}

// Pagination 列表查询的分页参数
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// NewPagination 创建分页参数，页码从1开始，页大小限制在1~100
func NewPagination(page, pageSize int) *Pagination {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return &Pagination{Page: page, PageSize: pageSize}
}

// Offset 返回当前页的偏移量
func (p *Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Limit 返回当前页大小
func (p *Pagination) Limit() int {
	return p.PageSize
}

// Paginate 返回应用分页的查询作用域
func Paginate(p *Pagination) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(p.Offset()).Limit(p.Limit())
	}
}
