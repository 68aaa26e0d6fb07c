// Package orchestrator управляет жизненным циклом runs.
//
// Orchestrator — единственный писатель run и его истории:
//   - Проверяет переходы статусов по таблице
//   - Запускает цикл планирования при входе в RUNNING
//   - Отправляет готовые узлы через scheduler
//   - Обрабатывает результаты узлов и наступившие повторы
//   - Запускает компенсацию перед публикацией RUN_FAILED
//
// Все изменения одного run сериализуются мьютексом этого run.
package orchestrator
