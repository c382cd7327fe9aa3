package pool

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/holdseg/pkg/models"
)

// maxFrame bounds a single message. Uploads are capped well below this.
const maxFrame = 256 << 20

// Frames are a big-endian uint32 length followed by a JSON body. Requests
// travel over the worker's stdin, replies over FD 3 so that anything the
// model runtime prints cannot corrupt the stream.

type request struct {
	JobID uuid.UUID `json:"job_id"`
	Image []byte    `json:"image"`
}

type reply struct {
	Result *models.PredictionSet `json:"result,omitempty"`
	Error  *models.JobError      `json:"error,omitempty"`
}

// hello is the first frame a worker sends, after its model has loaded.
type hello struct {
	Runtime string           `json:"runtime,omitempty"`
	Error   *models.JobError `json:"error,omitempty"`
}

func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if len(body) > maxFrame {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(body))
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(body))); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readFrame(r io.Reader, v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxFrame {
		return fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding frame: %w", err)
	}
	return nil
}
