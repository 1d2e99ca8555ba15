package model

// ServiceReference links a row owned by this service to an entity owned by
// another service, standing in for a cross-database foreign key.
type ServiceReference struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	LocalID     int64  `gorm:"not null;uniqueIndex:uq_service_ref,priority:1"`
	LocalTable  string `gorm:"size:100;not null;uniqueIndex:uq_service_ref,priority:2;index:idx_service_ref_target,priority:3"`
	TargetID    int64  `gorm:"not null;uniqueIndex:uq_service_ref,priority:3;index:idx_service_ref_target,priority:1"`
	TargetTable string `gorm:"size:100;not null;uniqueIndex:uq_service_ref,priority:4;index:idx_service_ref_target,priority:2"`
}

func (ServiceReference) TableName() string { return "service_references" }
