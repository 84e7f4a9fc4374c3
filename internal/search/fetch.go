package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-crawler/internal/crawler"
	"github.com/JakeFAU/search-crawler/internal/retry"
)

// processPage fetches one result page with account rotation, rate limiting
// and retry, then persists, publishes and parses it. The returned account id
// is the last account tried, even on failure.
func (o *Orchestrator) processPage(ctx context.Context, r *run, window crawler.TimeWindow, page int) (crawler.CrawlPageResult, string, error) {
	pageURL := o.deps.URLs.SearchURL(r.task.Keyword, window, page)
	logger := r.logger.With(zap.Int("page", page))

	var accountID string
	html, err := retry.DoValue(ctx, o.retryOptions(logger, "fetch"), func(ctx context.Context) (string, error) {
		account, err := o.selectAccount(ctx)
		if err != nil {
			return "", err
		}
		accountID = account.ID
		if err := o.admit(ctx, account.ID); err != nil {
			return "", err
		}
		return o.fetch(ctx, account, pageURL)
	})
	if err != nil {
		return crawler.CrawlPageResult{}, accountID, err
	}

	if err := o.persist(ctx, r, logger, window, page, pageURL, accountID, html); err != nil {
		return crawler.CrawlPageResult{}, accountID, err
	}

	if _, err := o.deps.Accounts.DeductHealth(ctx, accountID, o.cfg.HealthCost); err != nil {
		logger.Warn("deduct account health", zap.String("account_id", accountID), zap.Error(err))
	}

	res, err := o.deps.Parser.Parse(html)
	if err != nil {
		return crawler.CrawlPageResult{}, accountID, retry.Permanent(fmt.Errorf("parse page: %w", err))
	}
	return res, accountID, nil
}

func (o *Orchestrator) retryOptions(logger *zap.Logger, op string) retry.Options {
	opts := o.cfg.Retry
	next := opts.OnRetry
	opts.OnRetry = func(err error, attempt int) {
		logger.Warn("retrying "+op, zap.Int("attempt", attempt), zap.Error(err))
		if next != nil {
			next(err, attempt)
		}
	}
	return opts
}

func (o *Orchestrator) selectAccount(ctx context.Context) (*crawler.Account, error) {
	account, err := o.deps.Accounts.GetBestHealthAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	if account == nil {
		return nil, retry.Permanent(crawler.ErrNoAccount)
	}
	return account, nil
}

// admit consults the per-account limiter. Short waits are slept inline and
// the budget is checked again; longer waits surface as retryable errors.
func (o *Orchestrator) admit(ctx context.Context, accountID string) error {
	key := "account:" + accountID
	decision, err := o.deps.Limiter.Check(ctx, key, o.cfg.RateLimit)
	if err != nil {
		return retry.Permanent(fmt.Errorf("rate limit check: %w", err))
	}
	if decision.Allowed {
		return nil
	}

	wait := decision.RetryAfter(o.deps.Clock.Now())
	if wait >= o.cfg.InlineWaitMax {
		return fmt.Errorf("account %s: retry in %s: %w", accountID, wait.Round(time.Second), crawler.ErrRateLimited)
	}
	if err := o.deps.Clock.Sleep(ctx, wait); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	decision, err = o.deps.Limiter.Check(ctx, key, o.cfg.RateLimit)
	if err != nil {
		return retry.Permanent(fmt.Errorf("rate limit check: %w", err))
	}
	if !decision.Allowed {
		return fmt.Errorf("account %s: %w", accountID, crawler.ErrRateLimited)
	}
	return nil
}

// fetch loads pageURL as account. A login wall retires the account and fails
// the page without retry.
func (o *Orchestrator) fetch(ctx context.Context, account *crawler.Account, pageURL string) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	html, err := o.deps.Fetcher.Fetch(fetchCtx, crawler.FetchRequest{
		URL:       pageURL,
		Cookies:   account.Cookies,
		UserAgent: o.cfg.UserAgent,
	})
	if errors.Is(err, crawler.ErrLoginExpired) || (err == nil && o.deps.LoginDetector(html)) {
		if retireErr := o.deps.Accounts.Retire(ctx, account.ID, crawler.AccountInactive); retireErr != nil {
			o.deps.Logger.Warn("retire account", zap.String("account_id", account.ID), zap.Error(retireErr))
		}
		return "", retry.Permanent(fmt.Errorf("account %s: %w", account.ID, crawler.ErrLoginExpired))
	}
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	return html, nil
}

// persist stores the raw page and announces it on the configured queue.
func (o *Orchestrator) persist(
	ctx context.Context,
	r *run,
	logger *zap.Logger,
	window crawler.TimeWindow,
	page int,
	pageURL, accountID, html string,
) error {
	doc := crawler.RawDocument{
		SourceType:     o.cfg.SourceType,
		SourcePlatform: o.cfg.Platform,
		SourceURL:      pageURL,
		RawContent:     html,
		ContentHash:    o.deps.Hasher.Hash([]byte(html)),
		Metadata: map[string]any{
			"run_id":       r.id,
			"keyword":      r.task.Keyword,
			"page":         page,
			"window_start": window.Start.UTC().Format(time.RFC3339),
			"window_end":   window.End.UTC().Format(time.RFC3339),
			"account_id":   accountID,
		},
		CreatedAt: o.deps.Clock.Now().UTC(),
	}

	id, err := retry.DoValue(ctx, o.retryOptions(logger, "save"), func(ctx context.Context) (string, error) {
		return o.deps.RawStore.Save(ctx, doc)
	})
	if err != nil {
		return fmt.Errorf("save raw page: %w", err)
	}

	event := crawler.RawDataReadyEvent{
		RawDataID:      id,
		SourceType:     doc.SourceType,
		SourcePlatform: doc.SourcePlatform,
		SourceURL:      doc.SourceURL,
		ContentHash:    doc.ContentHash,
		Metadata:       doc.Metadata,
		CreatedAt:      doc.CreatedAt,
	}
	err = retry.Do(ctx, o.retryOptions(logger, "publish"), func(ctx context.Context) error {
		return o.deps.Publisher.Publish(ctx, o.cfg.Queue, event)
	})
	if err != nil {
		return fmt.Errorf("publish raw data ready: %w", err)
	}
	return nil
}
