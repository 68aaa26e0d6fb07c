// Package scheduler отправляет задачи исполнителям и управляет повторами.
//
// Scheduler:
//   - выбирает исполнителя через реестр и отправляет задачу (ScheduleTask)
//   - отслеживает задачи (одна живая запись на runId:nodeId:attempt)
//   - при неудачной отправке ставит отложенный повтор или отдаёт задачу в dead letter
//   - периодически (cron "@every") разбирает наступившие повторы и вызывает RetryTrigger
//   - удаляет терминальные задачи после окна хранения
//
// Структура:
//   - scheduler.go — основная логика Scheduler
//   - queue.go     — интерфейс RetryQueue и реализация в памяти на btree
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Registry: reg,
//	    Queue:    redisQueue, // опционально
//	    Logger:   logger,
//	})
//	sched.SetTrigger(orch.RetryNode)
//	sched.Start(ctx)
//	defer sched.Stop()
package scheduler
