package queue

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/cuemby/ciorch/pkg/types"
)

// maxPayloadBytes bounds a job's opaque payload, mirroring the webhook
// ingress's body-size cap so one oversized delivery can't balloon the
// jobs table.
const maxPayloadBytes = 1 * 1024 * 1024

// jobShape is validated structurally before a Job is persisted; Payload
// itself stays opaque (§3), only its envelope is checked.
type jobShape struct {
	Class    string `validate:"required"`
	Queue    string `validate:"required"`
	PayloadN int    `validate:"lte=1048576"`
}

var jobValidator = validator.New()

func validateJob(job *types.Job) error {
	shape := jobShape{Class: string(job.Class), Queue: job.Queue, PayloadN: len(job.Payload)}
	if err := jobValidator.Struct(shape); err != nil {
		return fmt.Errorf("invalid job envelope: %w", err)
	}
	return nil
}
