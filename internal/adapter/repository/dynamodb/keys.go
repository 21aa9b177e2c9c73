package dynamodb

import (
	"time"

	"github.com/iho/tripledger/internal/domain"
)

// Single-table layout:
//
//	PK=TX#<id>               SK=RECORD                     the record
//	PK=TX#<id>               SK=TRANSITION#<at>#<to>       transition audit facts
//	PK=TIMELINE              SK=<ts>#<id>                  time index
//	PK=ENT#<kind>#<entityID> SK=<ts>#<id>                  entity index
//
// Index items are immutable; status lives on the record item only.
const (
	attrPK = "PK"
	attrSK = "SK"

	skRecord         = "RECORD"
	pkTimeline       = "TIMELINE"
	transitionPrefix = "TRANSITION#"
)

// sortableTime is fixed width so lexical order of sort keys is time order.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

func recordPK(id string) string {
	return "TX#" + id
}

func entityPK(kind domain.EntityKind, entityID string) string {
	return "ENT#" + string(kind) + "#" + entityID
}

func timeKey(t time.Time) string {
	return t.UTC().Format(sortableTime)
}

func indexSK(t time.Time, id string) string {
	return timeKey(t) + "#" + id
}

func transitionSK(tr *domain.Transition) string {
	return transitionPrefix + timeKey(tr.At) + "#" + string(tr.To)
}
