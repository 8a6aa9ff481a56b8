package graph

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/dyike/cortexdesk/consts"
)

type stageNode struct {
	key string
	fn  func(ctx context.Context, rs *runState) (*runState, error)
}

// buildGraph compiles the stage graph. It is strictly linear: every node
// hands the same run state to its successor and none is ever revisited.
func buildGraph(ctx context.Context, p *Pipeline) (compose.Runnable[*runState, *runState], error) {
	g := compose.NewGraph[*runState, *runState]()

	nodes := []stageNode{
		{consts.NodeAnalysts, p.runAnalysts},
		{consts.NodeResearchDebate, p.runResearchDebate},
		{consts.NodeTradePlan, p.runTradePlan},
		{consts.NodeRiskDebate, p.runRiskDebate},
		{consts.NodeFinalDecision, p.runFinalDecision},
	}

	prev := compose.START
	for _, n := range nodes {
		if err := g.AddLambdaNode(n.key, compose.InvokableLambda(n.fn), compose.WithNodeName(n.key)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", n.key, err)
		}
		if err := g.AddEdge(prev, n.key); err != nil {
			return nil, fmt.Errorf("add edge %s -> %s: %w", prev, n.key, err)
		}
		prev = n.key
	}
	if err := g.AddEdge(prev, compose.END); err != nil {
		return nil, fmt.Errorf("add edge %s -> end: %w", prev, err)
	}

	return g.Compile(ctx, compose.WithGraphName(consts.GraphName))
}
