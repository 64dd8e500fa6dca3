package fleet

import (
	"errors"
	"fmt"
)

// ErrSchemaIneligible means a reachable schema lacks a table the scan reads.
var ErrSchemaIneligible = errors.New("fleet: schema ineligible")

type IneligibleError struct {
	Source Source
	Table  string
	Err    error
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("%s: no readable %s table: %v", e.Source, e.Table, e.Err)
}

func (e *IneligibleError) Is(target error) bool { return target == ErrSchemaIneligible }

func (e *IneligibleError) Unwrap() error { return e.Err }
