package workflow

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	relativeEN   = regexp.MustCompile(`(?i)\bin\s+(\d+)\s*(minutes?|mins?|hours?|hrs?|days?|[mhd])\b`)
	clockEN      = regexp.MustCompile(`(?i)\bat\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	relativeJA   = regexp.MustCompile(`(\d+)\s*(分|時間|日)後に?`)
	clockJA      = regexp.MustCompile(`(\d{1,2})時(?:(\d{1,2})分)?に?`)
	tomorrowRe   = regexp.MustCompile(`(?i)\btomorrow\b|明日の?`)
	reminderLead = regexp.MustCompile(`(?i)^\s*(?:please\s+)?remind\s+me\s+(?:to\s+|about\s+|that\s+)?`)
	reminderTail = regexp.MustCompile(`(?:と|を)?(?:リマインドして|リマインド|思い出させて)(?:ください)?[。!！]?\s*$`)
	reminderRe   = regexp.MustCompile(`(?i)\bremind\s+me\b|リマインド|思い出させて`)
	spaces       = regexp.MustCompile(`\s+`)
)

// isReminderRequest reports whether content asks for a reminder.
func isReminderRequest(content string) bool {
	return reminderRe.MatchString(content)
}

// parseWhen finds a time expression in content relative to now. It returns
// the time, content with the expression removed, and whether one was found.
func parseWhen(content string, now time.Time) (time.Time, string, bool) {
	rest := content
	tomorrow := false
	if loc := tomorrowRe.FindStringIndex(rest); loc != nil {
		tomorrow = true
		rest = rest[:loc[0]] + rest[loc[1]:]
	}

	if m := relativeEN.FindStringSubmatch(rest); m != nil {
		if d, ok := relativeDuration(m[1], m[2]); ok {
			return now.Add(d), strings.Replace(rest, m[0], "", 1), true
		}
	}
	if m := relativeJA.FindStringSubmatch(rest); m != nil {
		if d, ok := relativeDuration(m[1], m[2]); ok {
			return now.Add(d), strings.Replace(rest, m[0], "", 1), true
		}
	}
	if m := clockEN.FindStringSubmatch(rest); m != nil {
		if at, ok := clockTime(now, m[1], m[2], strings.ToLower(m[3]), tomorrow); ok {
			return at, strings.Replace(rest, m[0], "", 1), true
		}
	}
	if m := clockJA.FindStringSubmatch(rest); m != nil {
		if at, ok := clockTime(now, m[1], m[2], "", tomorrow); ok {
			return at, strings.Replace(rest, m[0], "", 1), true
		}
	}
	return time.Time{}, content, false
}

func relativeDuration(amount, unit string) (time.Duration, bool) {
	n, err := strconv.Atoi(amount)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch strings.ToLower(unit) {
	case "m", "min", "mins", "minute", "minutes", "分":
		return time.Duration(n) * time.Minute, true
	case "h", "hr", "hrs", "hour", "hours", "時間":
		return time.Duration(n) * time.Hour, true
	case "d", "day", "days", "日":
		return time.Duration(n) * 24 * time.Hour, true
	}
	return 0, false
}

func clockTime(now time.Time, hour, minute, ampm string, tomorrow bool) (time.Time, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil {
		return time.Time{}, false
	}
	m := 0
	if minute != "" {
		if m, err = strconv.Atoi(minute); err != nil {
			return time.Time{}, false
		}
	}
	switch ampm {
	case "pm":
		if h < 12 {
			h += 12
		}
	case "am":
		if h == 12 {
			h = 0
		}
	}
	if h > 23 || m > 59 {
		return time.Time{}, false
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if tomorrow || !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, true
}

// ParseReminder splits a reminder request into what to say and when.
// ok is false when no time expression was found; text is still returned.
func ParseReminder(content string, now time.Time) (text string, at time.Time, ok bool) {
	at, rest, ok := parseWhen(content, now)
	return reminderText(rest), at, ok
}

func reminderText(s string) string {
	s = reminderLead.ReplaceAllString(s, "")
	s = reminderTail.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	s = strings.Trim(s, " ,.、。!！")
	s = strings.TrimPrefix(s, "to ")
	if s == "" {
		return "Reminder"
	}
	return s
}
