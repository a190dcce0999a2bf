package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/util"
)

// validationError carries the catalog key of the message shown before the re-prompt.
type validationError struct {
	key    string
	reason string
}

func (e *validationError) Error() string {
	return e.reason
}

func invalid(key, format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrValidation, &validationError{key: key, reason: fmt.Sprintf(format, args...)})
}

func staticOptions(opts ...Option) func(context.Context, *Ctx) ([]Option, error) {
	return func(context.Context, *Ctx) ([]Option, error) {
		return opts, nil
	}
}

func labels(ls ...string) []Option {
	opts := make([]Option, len(ls))
	for i, l := range ls {
		opts[i] = Option{Label: l}
	}
	return opts
}

func prompt(s string) func(*Ctx) string {
	return func(*Ctx) string {
		return s
	}
}

// scaleOptions renders 1..10 as buttons.
func scaleOptions() []Option {
	opts := make([]Option, 10)
	for i := range opts {
		opts[i] = Option{Label: strconv.Itoa(i + 1)}
	}
	return opts
}

// parseRange accepts an integer in [lo, hi].
func parseRange(lo, hi int, key string) func(*Ctx, string) ([]string, error) {
	return func(_ *Ctx, text string) ([]string, error) {
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil || n < lo || n > hi {
			return nil, invalid(key, "%q is not in %d..%d", text, lo, hi)
		}
		return []string{strconv.Itoa(n)}, nil
	}
}

// parseList splits free text into at most max items.
func parseList(limit int) func(*Ctx, string) ([]string, error) {
	return func(_ *Ctx, text string) ([]string, error) {
		items := util.SplitItems(text, limit)
		if len(items) == 0 {
			return nil, invalid("error.invalid_input", "no items in %q", text)
		}
		return items, nil
	}
}

// parseChoice accepts only an option label or value, case-insensitively.
func parseChoice(opts []Option) func(*Ctx, string) ([]string, error) {
	return func(_ *Ctx, text string) ([]string, error) {
		for _, o := range opts {
			if strings.EqualFold(text, o.Label) || strings.EqualFold(text, o.value()) {
				return []string{o.value()}, nil
			}
		}
		return nil, invalid("error.invalid_input", "%q is not an option", text)
	}
}

// parseName accepts a trimmed name of reasonable length.
func parseName(_ *Ctx, text string) ([]string, error) {
	name := strings.Join(strings.Fields(text), " ")
	if name == "" || len([]rune(name)) > 64 {
		return nil, invalid("error.invalid_input", "bad name %q", text)
	}
	return []string{name}, nil
}

func parseTimezone(_ *Ctx, text string) ([]string, error) {
	tz := strings.TrimSpace(text)
	if _, err := time.LoadLocation(tz); err != nil || tz == "" || strings.EqualFold(tz, "local") {
		return nil, invalid("settings.bad_tz", "unknown timezone %q", text)
	}
	return []string{tz}, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
