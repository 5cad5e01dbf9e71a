package cli

import (
	"context"
	"errors"

	"github.com/iudanet/roomsync/pkg/api"
)

var errEmptyLog = errors.New("nothing to compact")

// LatestSnapshot сворачивает журнал в данные самого нового конверта.
// Подходит, когда каждое обновление - полный снимок документа (как шлет push).
type LatestSnapshot struct{}

func (LatestSnapshot) Compact(ctx context.Context, room string, log []api.UpdateEnvelope) (string, error) {
	if len(log) == 0 {
		return "", errEmptyLog
	}

	latest := log[0]
	for _, e := range log[1:] {
		if e.Timestamp >= latest.Timestamp {
			latest = e
		}
	}
	return latest.Data, nil
}
