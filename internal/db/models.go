package db

// NotebookRecord tracks every notebook file the bridge has opened.
type NotebookRecord struct {
	Path          string `gorm:"column:path;primaryKey"`
	FirstOpenedAt int64  `gorm:"column:first_opened_at;not null;default:0"`
	LastOpenedAt  int64  `gorm:"column:last_opened_at;not null;default:0"`
	OpenCount     int    `gorm:"column:open_count;not null;default:0"`
}

func (NotebookRecord) TableName() string { return "notebook_records" }

// ExecutionRecord is one settled cell execution.
type ExecutionRecord struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement"`
	NotebookPath string `gorm:"column:notebook_path;not null;index"`
	CellID       string `gorm:"column:cell_id;not null;default:''"`
	Code         string `gorm:"column:code;not null;default:''"`
	Mime         string `gorm:"column:mime;not null;default:''"`
	Output       string `gorm:"column:output;not null;default:''"`
	Errored      bool   `gorm:"column:errored;not null;default:false"`
	FailReason   string `gorm:"column:fail_reason;not null;default:''"`
	RuntimeNS    int64  `gorm:"column:runtime_ns;not null;default:0"`
	CreatedAt    int64  `gorm:"column:created_at;not null;default:0"`
}

func (ExecutionRecord) TableName() string { return "execution_records" }
