// Package cli реализует инструмент командной строки dagflow.
//
// # Обзор
//
// CLI — клиентская утилита для dagflow API. Работает через HTTP
// и не импортирует пакеты движка (кроме xjson). Все запросы к ресурсам
// арендатора отправляются с заголовком X-Tenant-ID (флаг --tenant).
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент API: запросы, разбор DataResponse/ListResponse,
// ошибки API как *APIError.
//
//	client := cli.NewClient("http://localhost:8080", "acme")
//	defs, err := client.ListDefinitions(ctx)
//
// ## Output
//
// Таблицы (text/tabwriter) по умолчанию или JSON с флагом --json.
// Данные пишутся в stdout, сообщения в stderr:
//
//	dagflow run list --json | jq .
//
// ## Commands
//
//   - definition: list, show, publish
//   - run: list, create, show, history, start, cancel, suspend, resume
//   - executor: list, register, unregister
//
// Группы создаются фабриками (NewRunCmd и т.д.), которые принимают
// clientFn и outputFn для ленивого создания Client и Output
// после разбора PersistentFlags.
package cli
