package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/partmaster/internal/config"
	"github.com/sells-group/partmaster/internal/partstore"
	"github.com/sells-group/partmaster/internal/pipeline"
	"github.com/sells-group/partmaster/internal/source"
)

// pipelineEnv holds the store and pipeline used by refresh, process, and
// serve.
type pipelineEnv struct {
	Store    partstore.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured backend.
func initStore(ctx context.Context, c *config.Config) (partstore.Store, error) {
	st, err := partstore.Open(ctx, c.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// initPipeline validates cfg for mode, opens the store, and builds the
// Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, c *config.Config, mode string) (*pipelineEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	cleanser, err := pipeline.NewCleanser(c.Cleanse)
	if err != nil {
		return nil, eris.Wrap(err, "load cleanse rules")
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}

	loader := source.NewFileLoader(c.Load.Charset)
	return &pipelineEnv{
		Store:    st,
		Pipeline: pipeline.New(c, st, loader, cleanser),
	}, nil
}

// withStore runs fn against a migrated store and closes it afterwards.
func withStore(ctx context.Context, c *config.Config, fn func(partstore.Store) error) error {
	if err := c.Validate("store"); err != nil {
		return err
	}
	st, err := initStore(ctx, c)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return eris.Wrap(err, "migrate store")
	}
	return fn(st)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
