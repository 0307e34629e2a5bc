package types

// IsValidID reports whether s is a usable exam/user identifier:
// 1-64 characters, alphanumeric plus underscore and hyphen.
func IsValidID(s string) bool {
	if len(s) == 0 || len(s) > 64 {
		return false
	}
	for _, r := range s {
		if !isIDRune(r) {
			return false
		}
	}
	return true
}

func isIDRune(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '_' || r == '-'
}

// IsValidActivityType reports whether t is one of the recognized
// anti-cheating event types.
func IsValidActivityType(t string) bool {
	switch t {
	case ActivityTabSwitch, ActivityCopyPaste, ActivityRightClick,
		ActivityDevTools, ActivityFullscreenExit:
		return true
	}
	return false
}

func (p *JoinExamPayload) Validate() error {
	if !IsValidID(p.ExamID) {
		return ErrInvalidExamID
	}
	return nil
}

func (p *LeaveExamPayload) Validate() error {
	if !IsValidID(p.ExamID) {
		return ErrInvalidExamID
	}
	return nil
}

func (p *StartStreamPayload) Validate() error {
	if !IsValidID(p.ExamID) {
		return ErrInvalidExamID
	}
	return nil
}

func (p *StopStreamPayload) Validate() error {
	if !IsValidID(p.ExamID) {
		return ErrInvalidExamID
	}
	return nil
}

func (p *SendWarningPayload) Validate() error {
	if !IsValidID(p.ExamID) {
		return ErrInvalidExamID
	}
	if !IsValidID(p.UserID) {
		return ErrInvalidUserID
	}
	if p.Message == "" {
		return ErrEmptyWarningMessage
	}
	return nil
}

func (p *AnalyzeFramePayload) Validate() error {
	if !IsValidID(p.ExamID) {
		return ErrInvalidExamID
	}
	if !IsValidID(p.UserID) {
		return ErrInvalidUserID
	}
	if p.FrameData == "" {
		return ErrMissingFrameData
	}
	return nil
}

func (p *AntiCheatingPayload) Validate() error {
	if !IsValidID(p.ExamID) {
		return ErrInvalidExamID
	}
	if len(p.Events) == 0 {
		return ErrEmptyActivityBatch
	}
	for _, ev := range p.Events {
		if !IsValidActivityType(ev.EventType) {
			return ErrInvalidActivityType
		}
	}
	return nil
}

func (p *StartAutomatedMonitoringPayload) Validate() error {
	if !IsValidID(p.ExamID) {
		return ErrInvalidExamID
	}
	return nil
}

func (p *SignalPayload) Validate() error {
	if p.To == "" {
		return ErrMissingRecipient
	}
	if len(p.Signal) == 0 {
		return ErrMissingSignal
	}
	return nil
}

func (p *ReturnSignalPayload) Validate() error {
	if p.To == "" {
		return ErrMissingRecipient
	}
	if len(p.Signal) == 0 {
		return ErrMissingSignal
	}
	return nil
}

func (p *ReconnectPayload) Validate() error {
	if !IsValidID(p.ExamID) {
		return ErrInvalidExamID
	}
	return nil
}
