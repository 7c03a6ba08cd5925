// Package reconcile folds newly seen payment notifications into the donor
// ledger and the processed-set.
//
// Ledger and processed-set are threaded through as immutable values: the
// driver never mutates its inputs and returns the updated state in a Result.
// Persisting that state is the caller's job.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kayyshop/donorboard/internal/domain"
	"github.com/kayyshop/donorboard/internal/extract"
	"github.com/kayyshop/donorboard/internal/identity"
	"github.com/kayyshop/donorboard/internal/textnorm"
)

// Source lists and fetches messages from a connected mailbox.
type Source interface {
	Search(ctx context.Context) ([]domain.MessageRef, error)
	Fetch(ctx context.Context, ref domain.MessageRef) ([]byte, error)
}

// Message is an already fetched message with its identity token.
type Message struct {
	Token string
	Raw   []byte
}

// Result is the outcome of one reconciliation pass.
type Result struct {
	Ledger    domain.Ledger
	Processed domain.ProcessedSet
	// Changed is true iff at least one token was added to Processed.
	Changed bool
	Credits []domain.Credit

	Evaluated   int
	Skipped     int
	Unavailable int
}

// Driver runs reconciliation passes.
type Driver struct {
	extractor *extract.Extractor
	resolver  identity.Resolver
	logger    *slog.Logger
}

// NewDriver creates a Driver.
func NewDriver(extractor *extract.Extractor, resolver identity.Resolver, logger *slog.Logger) *Driver {
	return &Driver{
		extractor: extractor,
		resolver:  resolver,
		logger:    logger.With(slog.String("component", "reconcile")),
	}
}

// Apply folds an already fetched batch into ledger and processed. Messages are
// visited in ascending token order; tokens already in processed are skipped.
func (d *Driver) Apply(ledger domain.Ledger, processed domain.ProcessedSet, msgs []Message) Result {
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return domain.TokenLess(sorted[i].Token, sorted[j].Token)
	})

	res := Result{Ledger: ledger, Processed: processed}
	for _, m := range sorted {
		if res.Processed.Has(m.Token) {
			res.Skipped++
			continue
		}
		d.fold(&res, m.Token, m.Raw)
	}
	return res
}

// Reconcile lists the source, fetches every message whose token is not yet
// processed and folds it in. A message the source reports as unavailable is
// skipped without being marked processed so the next cycle retries it. Any
// other source error aborts the remaining batch: the Result still carries the
// progress made so far and the error is returned alongside it.
func (d *Driver) Reconcile(ctx context.Context, ledger domain.Ledger, processed domain.ProcessedSet, src Source) (Result, error) {
	res := Result{Ledger: ledger, Processed: processed}

	refs, err := src.Search(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile: search: %w", err)
	}

	type pending struct {
		token string
		ref   domain.MessageRef
	}
	batch := make([]pending, 0, len(refs))
	for _, ref := range refs {
		batch = append(batch, pending{token: d.resolver.Token(ref), ref: ref})
	}
	sort.SliceStable(batch, func(i, j int) bool {
		return domain.TokenLess(batch[i].token, batch[j].token)
	})

	for _, p := range batch {
		if res.Processed.Has(p.token) {
			res.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("reconcile: %w", err)
		}

		raw, err := src.Fetch(ctx, p.ref)
		if err != nil {
			if errors.Is(err, domain.ErrMessageUnavailable) {
				d.logger.WarnContext(ctx, "fetch failed, will retry next cycle",
					slog.String("token", p.token),
					slog.String("error", err.Error()),
				)
				res.Unavailable++
				continue
			}
			return res, fmt.Errorf("reconcile: fetch %s: %w", p.token, err)
		}

		d.fold(&res, p.token, raw)
	}
	return res, nil
}

// fold evaluates one unseen message. The token is marked processed whatever
// the extraction outcome; the ledger changes only for actionable messages.
func (d *Driver) fold(res *Result, token string, raw []byte) {
	res.Processed = res.Processed.With(token)
	res.Changed = true
	res.Evaluated++

	text, err := textnorm.FromMessage(raw)
	if err != nil {
		d.logger.Warn("message body unreadable, marking processed",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
		return
	}

	ex := d.extractor.Extract(text)
	d.logger.Info("message evaluated",
		slog.String("token", token),
		slog.Bool("outgoing", ex.Outgoing),
		slog.String("amount", amountAttr(ex)),
		slog.String("note", ex.Note),
		slog.String("donor_id", ex.DonorID),
	)

	if !ex.Actionable() {
		d.logger.Info("message ignored (no donor id or no amount)", slog.String("token", token))
		return
	}

	res.Ledger = res.Ledger.Credit(ex.DonorID, ex.Amount.Decimal)
	credit := domain.Credit{
		Token:   token,
		DonorID: ex.DonorID,
		Amount:  ex.Amount.Decimal,
		Total:   res.Ledger.Total(ex.DonorID),
	}
	res.Credits = append(res.Credits, credit)

	d.logger.Info("donation credited",
		slog.String("donor_id", credit.DonorID),
		slog.String("amount", credit.Amount.StringFixed(2)),
		slog.String("total", credit.Total.StringFixed(2)),
	)
}

func amountAttr(ex domain.Extraction) string {
	if !ex.Amount.Valid {
		return ""
	}
	return ex.Amount.Decimal.StringFixed(2)
}
