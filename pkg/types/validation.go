package types

// MaxContentBytes bounds a single chat message payload.
const MaxContentBytes = 4 * 1024

// MaxTimerMinutes bounds pomodoro and break countdowns. Eight hours is far
// beyond any sane study block but keeps nonsense client input out of the
// sweeper's arithmetic.
const MaxTimerMinutes = 480

// ValidateContent checks a chat message body before persistence.
func ValidateContent(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// ValidateTimerMinutes checks an optional countdown length. A nil value is an
// open-ended stopwatch and always valid.
func ValidateTimerMinutes(minutes *int) error {
	if minutes == nil {
		return nil
	}
	if *minutes < 1 || *minutes > MaxTimerMinutes {
		return ErrInvalidDuration
	}
	return nil
}
