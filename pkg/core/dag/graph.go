// Package dag 基于 go-dag 的模块依赖图：循环检测、拓扑分层以及上下游查询
package dag

import (
	"errors"
	"fmt"
	"sort"

	godag "github.com/begmaroman/go-dag"

	"github.com/LENAX/sim-runner/pkg/config"
)

// ErrCycle 依赖图存在环
var ErrCycle = errors.New("检测到循环依赖")

// Vertex 图节点（实现 go-dag 的 Identifiable 接口）
type Vertex struct {
	Name   string
	Module *config.ModuleConfig
}

// ID 实现 Identifiable 接口
func (v *Vertex) ID() string {
	return v.Name
}

// Graph 模块依赖图（对外导出）
// 边的方向为 依赖 -> 模块（生产者 -> 消费者），集合外的依赖不建边
type Graph struct {
	d        *godag.DAG[*Vertex]
	order    []string
	external map[string][]string
}

// TopologicalOrder 拓扑分层结果，同一层的模块可以并行执行
type TopologicalOrder struct {
	Levels [][]string
}

// Build 由模块列表构建依赖图（对外导出）
// 先用DFS一次性检测环，再写入 go-dag，存在环时返回包含环路径的ErrCycle
func Build(modules []config.ModuleConfig) (*Graph, error) {
	adj := make(map[string][]string, len(modules))
	for _, m := range modules {
		if _, dup := adj[m.Name]; dup {
			return nil, fmt.Errorf("模块重复: %s", m.Name)
		}
		adj[m.Name] = nil
	}

	g := &Graph{
		d:        godag.NewDAG[*Vertex](),
		external: make(map[string][]string),
	}

	type edge struct{ from, to string }
	var edges []edge
	seen := make(map[edge]bool)
	for _, m := range modules {
		for _, dep := range m.Deps {
			if _, ok := adj[dep]; !ok {
				g.external[m.Name] = append(g.external[m.Name], dep)
				continue
			}
			e := edge{dep, m.Name}
			if seen[e] {
				continue
			}
			seen[e] = true
			edges = append(edges, e)
			adj[dep] = append(adj[dep], m.Name)
		}
	}

	if path := detectCycleDFS(modules, adj); path != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, path)
	}

	for i := range modules {
		m := &modules[i]
		if _, err := g.d.AddVertex(&Vertex{Name: m.Name, Module: m}); err != nil {
			return nil, fmt.Errorf("添加节点失败: %s: %w", m.Name, err)
		}
		g.order = append(g.order, m.Name)
	}
	for _, e := range edges {
		if err := g.d.AddEdge(e.from, e.to); err != nil {
			return nil, fmt.Errorf("添加边失败: %s -> %s: %w", e.from, e.to, err)
		}
	}
	return g, nil
}

// detectCycleDFS 三色标记DFS检测环，返回闭合的环路径，无环时返回nil
// 按模块声明顺序遍历，结果稳定
func detectCycleDFS(modules []config.ModuleConfig, adj map[string][]string) []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(adj))
	parent := make(map[string]string)
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		for _, child := range adj[id] {
			switch color[child] {
			case white:
				parent[child] = id
				if dfs(child) {
					return true
				}
			case gray:
				cycle = append(cycle, child)
				for cur := id; cur != child; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, child)
				// 还原为依赖方向
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, m := range modules {
		if color[m.Name] == white && dfs(m.Name) {
			return cycle
		}
	}
	return nil
}

// Len 节点数量
func (g *Graph) Len() int {
	return len(g.order)
}

// Names 按声明顺序返回全部模块名
func (g *Graph) Names() []string {
	return append([]string(nil), g.order...)
}

// Module 获取模块描述
func (g *Graph) Module(name string) (*config.ModuleConfig, bool) {
	v, err := g.d.GetVertex(name)
	if err != nil {
		return nil, false
	}
	return v.Module, true
}

// Parents 集合内的直接依赖（已排序）
func (g *Graph) Parents(name string) ([]string, error) {
	parents, err := g.d.GetParents(name)
	if err != nil {
		return nil, err
	}
	return sortedKeys(parents), nil
}

// Children 直接下游（已排序）
func (g *Graph) Children(name string) ([]string, error) {
	children, err := g.d.GetChildren(name)
	if err != nil {
		return nil, err
	}
	return sortedKeys(children), nil
}

// External 模块引用的集合外依赖，由调用方决定是否可以解析（例如系统缓存）
func (g *Graph) External() map[string][]string {
	out := make(map[string][]string, len(g.external))
	for k, v := range g.external {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Roots 没有集合内依赖的模块（已排序）
func (g *Graph) Roots() []string {
	return sortedKeys(g.d.GetRoots())
}

// Downstream 返回name的全部下游模块（不含自身，已排序）
func (g *Graph) Downstream(name string) ([]string, error) {
	if _, err := g.d.GetVertex(name); err != nil {
		return nil, fmt.Errorf("模块 %s 不存在: %w", name, err)
	}
	visited := make(map[string]bool)
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := g.d.GetChildren(cur)
		if err != nil {
			return nil, err
		}
		for id := range children {
			if !visited[id] {
				visited[id] = true
				queue = append(queue, id)
			}
		}
	}
	out := make([]string, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// TopologicalSort 使用Kahn算法分层（对外导出）
// 每层内按模块声明顺序排列
func (g *Graph) TopologicalSort() (*TopologicalOrder, error) {
	inDegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		parents, err := g.d.GetParents(id)
		if err != nil {
			return nil, err
		}
		inDegree[id] = len(parents)
	}

	result := &TopologicalOrder{}
	var queue []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		result.Levels = append(result.Levels, queue)
		processed += len(queue)

		next := make(map[string]bool)
		for _, id := range queue {
			children, _ := g.d.GetChildren(id)
			for child := range children {
				inDegree[child]--
				if inDegree[child] == 0 {
					next[child] = true
				}
			}
		}
		queue = nil
		for _, id := range g.order {
			if next[id] {
				queue = append(queue, id)
			}
		}
	}

	if processed != len(g.order) {
		return nil, fmt.Errorf("拓扑排序失败：存在未处理的节点: %w", ErrCycle)
	}
	return result, nil
}

func sortedKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
