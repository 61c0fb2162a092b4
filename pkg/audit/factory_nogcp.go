//go:build !gcp

package audit

import (
	"context"
	"fmt"
)

func newGCSArchiveFromEnv(_ context.Context) (ArchiveStore, error) {
	return nil, fmt.Errorf("gcs archive requires building with the gcp tag")
}
