package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// Pick returns the transaction when one is attached, otherwise db.
func (c Context) Pick(db *gorm.DB) *gorm.DB {
	t := c.Tx
	if t == nil {
		t = db
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return t.WithContext(ctx)
}
