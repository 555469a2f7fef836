package status

import "fmt"

// Status is the lifecycle state of a transfer.
type Status int32

const (
	Init Status = iota
	Active
	Finished
	Failed
	Aborted
)

var names = map[Status]string{
	Init:     "INIT",
	Active:   "ACTIVE",
	Finished: "FINISHED",
	Failed:   "FAILED",
	Aborted:  "ABORTED",
}

func (s Status) String() string {
	if n, ok := names[s]; ok {
		return n
	}

	return fmt.Sprintf("Status(%d)", int32(s))
}

// IsTerminal reports whether no further transitions can happen.
func (s Status) IsTerminal() bool {
	return s == Finished || s == Failed || s == Aborted
}

// IsPending reports whether the status still belongs in the active queue.
func (s Status) IsPending() bool {
	return s == Init || s == Active
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := names[s]; !ok {
		return nil, fmt.Errorf("unknown status %d", int32(s))
	}

	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

// Parse converts a status name back into a Status.
func Parse(name string) (Status, error) {
	for s, n := range names {
		if n == name {
			return s, nil
		}
	}

	return Init, fmt.Errorf("unknown status %q", name)
}
