package instance

import "os"

const EnvWorkerID = "KISAAN_WORKER_ID"

// GetID identifies this worker replica in logs. It falls back to the
// hostname and then to "worker-0".
func GetID() string {
	if id := os.Getenv(EnvWorkerID); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
