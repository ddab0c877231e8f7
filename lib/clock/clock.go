package clock

import "time"

const layout = "2006-01-02T15:04:05Z"

// Func is an injectable source of current time; nil means time.Now.
type Func func() time.Time

func (f Func) Now() time.Time {
	if f == nil {
		return time.Now()
	}
	return f()
}

func Now() string {
	return Format(time.Now())
}

func Format(t time.Time) string {
	return t.UTC().Format(layout)
}

// Fixed returns a clock stuck at t, for tests.
func Fixed(t time.Time) Func {
	return func() time.Time { return t }
}
