package app

import (
	"context"

	"redline/internal/engine"
	"redline/internal/versionstore"
)

// Pipeline is the comparison engine surface the HTTP layer drives.
type Pipeline interface {
	Submit(ctx context.Context, slot, path string) (engine.Result, error)
	SubmitText(ctx context.Context, slot, text string) (engine.Result, error)
	Compare(ctx context.Context, slot string) (engine.Comparison, error)
	CompareRefs(ctx context.Context, slot, fromRef, toRef string) (engine.Comparison, error)
	Report(ctx context.Context, slot string) (engine.Comparison, error)
	PDF(ctx context.Context, slot string) ([]byte, error)
	History(ctx context.Context, slot string) ([]versionstore.Snapshot, error)
	Reset(ctx context.Context, slot string) error
	Ping(ctx context.Context) error
	ConverterName() string
}

var _ Pipeline = (*engine.Engine)(nil)

type Options struct {
	CORSOrigin     string
	MaxUploadBytes int64
	UploadDir      string
}
