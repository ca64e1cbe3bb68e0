package models

// Tenant is one hotel property with its own database.
// The pointer fields are optional per-tenant overrides of the global queue settings.
type Tenant struct {
	ID           int64  `json:"id" yaml:"id"`
	Code         string `json:"code" yaml:"code"`
	Name         string `json:"name" yaml:"name"`
	DatabaseName string `json:"databaseName" yaml:"database_name"`
	Timezone     string `json:"timezone,omitempty" yaml:"timezone"`

	EnableQueueMode   *bool   `json:"enableQueueMode,omitempty" yaml:"enable_queue_mode"`
	EnableQueueWorker *bool   `json:"enableQueueWorker,omitempty" yaml:"enable_queue_worker"`
	UseMiddleware     *bool   `json:"useQueueMiddleware,omitempty" yaml:"use_queue_middleware"`
	WorkerBatchSize   *int    `json:"queueWorkerBatchSize,omitempty" yaml:"queue_worker_batch_size"`
	DefaultPartner    *string `json:"defaultPartner,omitempty" yaml:"default_partner"`
}

// QueueSettings is the effective queue configuration for a call or tenant.
type QueueSettings struct {
	EnableQueueMode        bool   `json:"enableQueueMode"`
	EnableBackgroundWorker bool   `json:"enableBackgroundWorker"`
	UseMiddleware          bool   `json:"useMiddleware"`
	WorkerBatchSize        int    `json:"workerBatchSize"`
	DefaultPartner         string `json:"defaultPartner"`
}
