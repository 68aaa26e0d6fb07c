// Package registry — реестр исполнителей.
//
// Registry хранит ExecutorInfo, принимает heartbeat'ы и выбирает
// исполнителя для узла стратегией (round_robin, random,
// least_recently_used). Исполнитель здоров, пока с последнего
// heartbeat прошло меньше HeartbeatTimeout.
//
// Dispatch оборачивает вызов транспорта в resilience под именем
// "dispatch:<executor_id>". Discovery активно проверяет исполнителей
// (gRPC health или HTTP /healthz) под именем "probe:<executor_id>",
// обновляя heartbeat при успехе, и вытесняет тех, кто молчит дольше EvictAfter.
//
// Наружу отдаются только копии ExecutorInfo.
package registry
