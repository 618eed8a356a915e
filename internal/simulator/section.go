package simulator

import "fmt"

// Section states.
const (
	StateReady = "READY"
	StateArmed = "ARMED"
)

// Panel error responses.
const (
	ErrorNoAccess     = "ERROR: 3 NO_ACCESS"
	ErrorInvalidValue = "ERROR: 4 INVALID_VALUE"
)

// Section is one arming zone of the simulated panel.
type Section struct {
	Code  string
	State string
}

// String renders the panel's state report for the section.
func (s *Section) String() string {
	return fmt.Sprintf("STATE %s %s", s.Code, s.State)
}

// set arms a ready section.
func (s *Section) set() string {
	if s.State != StateReady {
		return ErrorInvalidValue
	}
	s.State = StateArmed
	return s.String()
}

// unset disarms an armed section.
func (s *Section) unset() string {
	if s.State != StateArmed {
		return ErrorInvalidValue
	}
	s.State = StateReady
	return s.String()
}
