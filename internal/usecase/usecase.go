package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/vadimbarashkov/tinylink/internal/entity"
	"github.com/vadimbarashkov/tinylink/internal/shortcode"
)

const (
	defaultMaxRetries   = 5
	defaultStoreTimeout = 3 * time.Second
)

type linkRepository interface {
	Save(ctx context.Context, code, url string) (*entity.Link, error)
	FindByCode(ctx context.Context, code string) (*entity.Link, error)
	RecordClick(ctx context.Context, code string, now time.Time) error
	Remove(ctx context.Context, code string) error
	List(ctx context.Context) ([]*entity.Link, error)
}

type Option func(*LinkUseCase)

// WithCodeLength sets the length of generated codes. Lengths the validator
// would reject are ignored.
func WithCodeLength(n int) Option {
	return func(uc *LinkUseCase) {
		if n >= shortcode.MinLength && n <= shortcode.MaxLength {
			uc.codeLength = n
		}
	}
}

// WithMaxRetries sets how many generated candidates are tried before giving up.
func WithMaxRetries(n int) Option {
	return func(uc *LinkUseCase) {
		if n > 0 {
			uc.maxRetries = n
		}
	}
}

// WithStoreTimeout bounds every single store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(uc *LinkUseCase) {
		if d > 0 {
			uc.storeTimeout = d
		}
	}
}

// WithReservedCodes marks codes that are never handed out, typically the
// names of routes served next to the redirect.
func WithReservedCodes(codes ...string) Option {
	return func(uc *LinkUseCase) {
		for _, code := range codes {
			uc.reserved[code] = struct{}{}
		}
	}
}

type LinkUseCase struct {
	repo         linkRepository
	logger       *slog.Logger
	reserved     map[string]struct{}
	codeLength   int
	maxRetries   int
	storeTimeout time.Duration
	nowFunc      func() time.Time
	clicks       sync.WaitGroup
}

func New(repo linkRepository, logger *slog.Logger, opts ...Option) *LinkUseCase {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	uc := &LinkUseCase{
		repo:         repo,
		logger:       logger,
		reserved:     make(map[string]struct{}),
		codeLength:   shortcode.DefaultLength,
		maxRetries:   defaultMaxRetries,
		storeTimeout: defaultStoreTimeout,
		nowFunc:      time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// CreateLink validates the destination, picks a code and stores the new link.
// An empty customCode means a random code is generated.
func (uc *LinkUseCase) CreateLink(ctx context.Context, originalURL, customCode string) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.CreateLink"

	if !isValidURL(originalURL) {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrInvalidURL)
	}

	code := customCode
	if code != "" {
		if !shortcode.IsValid(code) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrInvalidCode)
		}
	} else {
		var err error

		code, err = uc.generateCode(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	// Only an early answer: concurrent creators can still race past this,
	// the store's unique constraint on code decides.
	taken, err := uc.codeTaken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to check code: %w", op, err)
	}
	if taken {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrCodeExists)
	}

	storeCtx, cancel := uc.storeContext(ctx)
	defer cancel()

	link, err := uc.repo.Save(storeCtx, code, originalURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to save link: %w", op, storeError(err))
	}

	return link, nil
}

func (uc *LinkUseCase) generateCode(ctx context.Context) (string, error) {
	for i := 0; i < uc.maxRetries; i++ {
		code := shortcode.Generate(uc.codeLength)

		taken, err := uc.codeTaken(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check generated code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}

	return "", entity.ErrCodeGenerationFailed
}

func (uc *LinkUseCase) codeTaken(ctx context.Context, code string) (bool, error) {
	if _, ok := uc.reserved[code]; ok {
		return true, nil
	}

	storeCtx, cancel := uc.storeContext(ctx)
	defer cancel()

	_, err := uc.repo.FindByCode(storeCtx, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, entity.ErrLinkNotFound):
		return false, nil
	default:
		return false, storeError(err)
	}
}

// ResolveCode returns the destination of code and records the visit.
// The click update runs in the background and its failure does not fail the resolve.
func (uc *LinkUseCase) ResolveCode(ctx context.Context, code string) (string, error) {
	const op = "usecase.LinkUseCase.ResolveCode"

	storeCtx, cancel := uc.storeContext(ctx)
	defer cancel()

	link, err := uc.repo.FindByCode(storeCtx, code)
	if err != nil {
		return "", fmt.Errorf("%s: failed to resolve code: %w", op, storeError(err))
	}

	uc.recordClick(ctx, link.Code, uc.nowFunc())

	return link.URL, nil
}

func (uc *LinkUseCase) recordClick(ctx context.Context, code string, now time.Time) {
	const op = "usecase.LinkUseCase.recordClick"

	ctx = context.WithoutCancel(ctx)

	uc.clicks.Add(1)
	go func() {
		defer uc.clicks.Done()

		storeCtx, cancel := uc.storeContext(ctx)
		defer cancel()

		if err := uc.repo.RecordClick(storeCtx, code, now); err != nil {
			uc.logger.ErrorContext(ctx, "failed to record click",
				slog.String("op", op),
				slog.String("code", code),
				slog.Any("err", err),
			)
		}
	}()
}

// Wait blocks until every click update issued so far has finished.
func (uc *LinkUseCase) Wait(ctx context.Context) error {
	const op = "usecase.LinkUseCase.Wait"

	done := make(chan struct{})
	go func() {
		uc.clicks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: click updates still pending: %w", op, ctx.Err())
	}
}

func (uc *LinkUseCase) GetLink(ctx context.Context, code string) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.GetLink"

	storeCtx, cancel := uc.storeContext(ctx)
	defer cancel()

	link, err := uc.repo.FindByCode(storeCtx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get link: %w", op, storeError(err))
	}

	return link, nil
}

func (uc *LinkUseCase) ListLinks(ctx context.Context) ([]*entity.Link, error) {
	const op = "usecase.LinkUseCase.ListLinks"

	storeCtx, cancel := uc.storeContext(ctx)
	defer cancel()

	links, err := uc.repo.List(storeCtx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list links: %w", op, storeError(err))
	}

	return links, nil
}

func (uc *LinkUseCase) DeleteLink(ctx context.Context, code string) error {
	const op = "usecase.LinkUseCase.DeleteLink"

	storeCtx, cancel := uc.storeContext(ctx)
	defer cancel()

	if err := uc.repo.Remove(storeCtx, code); err != nil {
		return fmt.Errorf("%s: failed to delete link: %w", op, storeError(err))
	}

	return nil
}

func (uc *LinkUseCase) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, uc.storeTimeout)
}

// storeError marks every store failure other than a miss or a duplicate
// as ErrStoreUnavailable.
func storeError(err error) error {
	if errors.Is(err, entity.ErrLinkNotFound) || errors.Is(err, entity.ErrCodeExists) {
		return err
	}

	return fmt.Errorf("%w: %w", entity.ErrStoreUnavailable, err)
}

func isValidURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
