package embed

import (
	"context"
	"fmt"
	"log/slog"
)

// EmbedEach embeds a batch of texts with per-text failure isolation. It
// tries one batched call first; if that fails, or returns missing rows, the
// affected texts are retried individually. The result always has one entry
// per input text. A nil vector at position i means text i could not be
// embedded, with the cause in errs[i].
func EmbedEach(ctx context.Context, p Provider, texts []string) (vecs [][]float32, errs []error) {
	vecs = make([][]float32, len(texts))
	errs = make([]error, len(texts))
	if len(texts) == 0 {
		return vecs, errs
	}

	batch, batchErr := p.Embed(ctx, texts)
	if batchErr == nil && len(batch) == len(texts) {
		copy(vecs, batch)
	} else if batchErr != nil {
		slog.Warn("embed: batch request failed, retrying texts individually",
			"texts", len(texts), "error", batchErr)
	}

	for i := range texts {
		if vecs[i] != nil {
			continue
		}
		if ctx.Err() != nil {
			errs[i] = ctx.Err()
			continue
		}
		single, err := p.Embed(ctx, texts[i:i+1])
		if err != nil {
			errs[i] = err
			continue
		}
		if len(single) != 1 || single[0] == nil {
			errs[i] = fmt.Errorf("provider returned no embedding")
			continue
		}
		vecs[i] = single[0]
	}
	return vecs, errs
}
