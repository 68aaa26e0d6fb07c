// Package engine содержит планировщик выполнения DAG.
//
// Включает:
//   - parser.go   — разбор и валидация WorkflowDefinition (JSON/YAML)
//   - dag.go      — построение графа, топологический порядок, поиск циклов
//   - planner.go  — PlanNextExecution: готовые узлы, завершённость, застревание
//   - template.go — рендеринг Go templates ({{ .Vars.x }}) в конфигурации узлов
//
// Engine не хранит состояние: все функции чистые и зависят только от
// определения и текущего состояния run.
package engine
