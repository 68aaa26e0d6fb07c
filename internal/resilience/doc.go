// Package resilience оборачивает удалённые вызовы в retry, таймаут и circuit breaker.
//
// Порядок обёрток в Executor.Execute:
//
//	Retry → CircuitBreaker → Timeout → fn
//
// Breaker хранится по имени операции ("dispatch:<executorId>", "probe:<executorId>")
// в Breakers, поэтому отказ одного исполнителя не влияет на остальных.
package resilience
