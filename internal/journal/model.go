package journal

import "time"

// AlertRecord is one sent alert.
type AlertRecord struct {
	ID             uint   `gorm:"primaryKey"`
	RunID          string `gorm:"index:idx_alert_records_run"`
	MsgID          string `gorm:"uniqueIndex"`
	Seq            uint64
	Category       string `gorm:"index:idx_alert_records_category"`
	Label          string
	FrameID        uint64
	DistanceM      *float64
	DistanceBucket string
	ROIMode        string
	SentAt         time.Time `gorm:"index"`
}

// RTTRecord is one accepted acknowledgement sample.
type RTTRecord struct {
	ID       uint   `gorm:"primaryKey"`
	RunID    string `gorm:"index:idx_rtt_records_run"`
	MsgID    string `gorm:"index:idx_rtt_records_msg"`
	Receiver string
	RTTMs    float64
	JitterMs *float64
	Complete bool
	AckedAt  time.Time `gorm:"index"`
}
