package engine

import (
	"sort"

	"github.com/shaiso/dagflow/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// Def — определение узла.
	Def *domain.NodeDefinition

	// ID — идентификатор узла.
	ID string

	// InDegree — количество входящих рёбер (разрешённых зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// DAG — граф зависимостей определения.
//
// Строится всегда: висячие ссылки и циклы не считаются ошибкой,
// а фиксируются в Dangling и Blocked, чтобы run мог сообщить о застревании.
type DAG struct {
	// Nodes — все узлы графа (nodeID → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей (точки входа), по ID.
	RootNodes []*Node

	// Order — топологический порядок узлов, не затронутых циклами.
	Order []*Node

	// Dangling — nodeID → ссылки depends_on на несуществующие узлы.
	Dangling map[string][]string

	// Blocked — узлы, лежащие на цикле или за ним, по ID.
	Blocked []string
}

// BuildGraph строит DAG из определения.
func BuildGraph(def *domain.WorkflowDefinition) *DAG {
	dag := &DAG{
		Nodes:    make(map[string]*Node, len(def.Nodes)),
		Dangling: make(map[string][]string),
	}

	// Первый проход: создаём все узлы
	for i := range def.Nodes {
		nd := &def.Nodes[i]
		if _, exists := dag.Nodes[nd.ID]; exists {
			continue
		}
		dag.Nodes[nd.ID] = &Node{Def: nd, ID: nd.ID}
	}

	// Второй проход: связываем узлы по зависимостям
	for i := range def.Nodes {
		nd := &def.Nodes[i]
		node := dag.Nodes[nd.ID]
		if node.Def != nd {
			continue
		}
		for _, depID := range nd.DependsOn {
			dep, exists := dag.Nodes[depID]
			if !exists {
				dag.Dangling[nd.ID] = append(dag.Dangling[nd.ID], depID)
				continue
			}
			dag.addEdge(dep, node)
		}
	}

	dag.findRootNodes()
	dag.topologicalSort()

	return dag
}

// addEdge добавляет ребро между узлами.
// Дополнительно проверяет на дубликаты, чтобы избежать двойного учета InDegree.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
func (d *DAG) findRootNodes() {
	d.RootNodes = make([]*Node, 0)
	for _, node := range d.Nodes {
		if node.InDegree == 0 {
			d.RootNodes = append(d.RootNodes, node)
		}
	}
	sortNodes(d.RootNodes)
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Узлы, не попавшие в порядок, лежат на цикле или зависят от него.
func (d *DAG) topologicalSort() {
	inDegree := make(map[string]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(d.RootNodes))
	copy(queue, d.RootNodes)

	order := make([]*Node, 0, len(d.Nodes))
	visited := make(map[string]bool, len(d.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		visited[node.ID] = true

		next := make([]*Node, 0)
		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				next = append(next, dependent)
			}
		}
		sortNodes(next)
		queue = append(queue, next...)
	}

	d.Order = order
	d.Blocked = nil
	if len(order) != len(d.Nodes) {
		for id := range d.Nodes {
			if !visited[id] {
				d.Blocked = append(d.Blocked, id)
			}
		}
		sort.Strings(d.Blocked)
	}
}

// HasCycle возвращает true, если в графе есть цикл.
func (d *DAG) HasCycle() bool {
	return len(d.Blocked) > 0
}

// HasDangling возвращает true, если есть ссылки на несуществующие узлы.
func (d *DAG) HasDangling() bool {
	return len(d.Dangling) > 0
}

// GetNode возвращает узел по ID.
func (d *DAG) GetNode(id string) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}

// OrderIDs возвращает ID узлов в топологическом порядке.
func (d *DAG) OrderIDs() []string {
	ids := make([]string, len(d.Order))
	for i, n := range d.Order {
		ids[i] = n.ID
	}
	return ids
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})
}
