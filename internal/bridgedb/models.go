// Package bridgedb reads the per-customer bridge tables: the communication
// log and the inbridge metadata table.
package bridgedb

import "time"

const (
	EventTable    = "communicationlog"
	MetadataTable = "inbridge"
)

// CommunicationLog is one logged bridge event.
type CommunicationLog struct {
	ID        int64     `gorm:"column:communicationlogid;primaryKey"`
	BridgeID  *int64    `gorm:"column:inbridgeid;index"`
	Comment   string    `gorm:"column:comment;type:text"`
	Timestamp time.Time `gorm:"column:timestamp;index"`
}

func (CommunicationLog) TableName() string { return EventTable }

// InBridge is the bridge metadata row. Nullable columns are pointers so a
// sparse legacy schema scans cleanly.
type InBridge struct {
	ID              int64      `gorm:"column:inbridgeid;primaryKey" json:"inbridgeid"`
	Hostname        *string    `gorm:"column:hostname" json:"hostname"`
	BridgeType      *string    `gorm:"column:bridgetype" json:"bridgetype"`
	SWVersion       *string    `gorm:"column:swversion" json:"swversion"`
	State           *string    `gorm:"column:bridgestate" json:"bridgestate"`
	Polling         *int64     `gorm:"column:polling" json:"polling"`
	PollFailure     *int64     `gorm:"column:pollfailure" json:"pollfailure"`
	ChangeTimestamp *time.Time `gorm:"column:changetimestamp" json:"changetimestamp"`
	Comment         *string    `gorm:"column:comment" json:"comment"`
	ErrorText       *string    `gorm:"column:errortext" json:"errortext"`
	LocalIP         *string    `gorm:"column:localip" json:"localip"`
}

func (InBridge) TableName() string { return MetadataTable }
