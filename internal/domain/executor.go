package domain

import "time"

// ExecutorInfo — зарегистрированный исполнитель.
//
// Принадлежит реестру; вызывающий код получает копии.
type ExecutorInfo struct {
	ID                string            `json:"id"`
	Type              string            `json:"type"`
	CommunicationType CommunicationType `json:"communication_type"`

	// Endpoint — адрес исполнителя (host:port для gRPC, URL для REST, очередь для AMQP).
	Endpoint string `json:"endpoint,omitempty"`

	HeartbeatTimeout time.Duration `json:"heartbeat_timeout"`
	LastHeartbeat    time.Time     `json:"last_heartbeat"`
	RegisteredAt     time.Time     `json:"registered_at"`

	// LastSelectedAt — когда исполнитель последний раз выбирался для задачи.
	LastSelectedAt time.Time `json:"last_selected_at,omitempty"`

	Metadata           map[string]string `json:"metadata,omitempty"`
	MaxConcurrentTasks int               `json:"max_concurrent_tasks,omitempty"`
}

// IsHealthy возвращает true, если с последнего heartbeat прошло меньше HeartbeatTimeout.
func (e ExecutorInfo) IsHealthy(now time.Time) bool {
	return now.Sub(e.LastHeartbeat) < e.HeartbeatTimeout
}

// Supports возвращает true, если исполнитель подходит для типа и транспорта.
// Пустой comm означает любой транспорт.
func (e ExecutorInfo) Supports(executorType string, comm CommunicationType) bool {
	if e.Type != executorType {
		return false
	}
	return comm == "" || e.CommunicationType == comm
}
