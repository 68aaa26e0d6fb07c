// Package compensation — saga-компенсация упавших run'ов.
//
// Coordinator откатывает завершённые узлы run'а обработчиками из
// статического реестра (noop, log, http) по стратегии политики:
//
//   - SEQUENTIAL — по одному, в обратном порядке завершения
//   - PARALLEL   — все сразу, результат агрегируется
//   - CUSTOM     — именованная стратегия из реестра, иначе SEQUENTIAL
//
// Все исходы возвращаются значением Result, без паник и ошибок.
package compensation
