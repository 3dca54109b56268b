package cache

import (
	"context"
	"time"
)

func (noopCache) Get(context.Context, string) (interface{}, bool) { return nil, false }

func (noopCache) Set(context.Context, string, interface{}, time.Duration) {}

func (noopCache) Delete(context.Context, string) {}

func (noopCache) DeleteByPrefix(context.Context, string) {}

func (noopCache) Flush(context.Context) {}
