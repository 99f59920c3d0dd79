// Package kubernetes summarizes node readiness and pod phases of a
// cluster.
package kubernetes

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"gitlab.com/tinyland/lab/barpulse/pkg/module"
)

// Name is the registry name.
const Name = "kubernetes"

const defaultFormat = "{context} {nodes_ready}/{nodes} nodes {running}/{pods} pods"

// Client is the slice of the Kubernetes API the module reads. An empty
// namespace lists across all namespaces.
type Client interface {
	ListNodes(ctx context.Context) ([]corev1.Node, error)
	ListPods(ctx context.Context, namespace string) ([]corev1.Pod, error)
	ListDeployments(ctx context.Context, namespace string) ([]appsv1.Deployment, error)
}

// ClientFactory connects to the cluster named by a kubeconfig path and
// context. It returns the client and the effective context name.
type ClientFactory func(kubeconfig, context string) (Client, string, error)

// PodCounts tallies pods by phase.
type PodCounts struct {
	Total     int
	Running   int
	Pending   int
	Succeeded int
	Failed    int
	Unknown   int
}

// CountPods groups pods by phase.
func CountPods(pods []corev1.Pod) PodCounts {
	pc := PodCounts{Total: len(pods)}
	for i := range pods {
		switch pods[i].Status.Phase {
		case corev1.PodRunning:
			pc.Running++
		case corev1.PodPending:
			pc.Pending++
		case corev1.PodSucceeded:
			pc.Succeeded++
		case corev1.PodFailed:
			pc.Failed++
		default:
			pc.Unknown++
		}
	}
	return pc
}

// NodeReady reports whether node has a true Ready condition.
func NodeReady(node *corev1.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// DeploymentReady reports whether every desired replica is ready.
func DeploymentReady(dep *appsv1.Deployment) bool {
	want := int32(1)
	if dep.Spec.Replicas != nil {
		want = *dep.Spec.Replicas
	}
	return dep.Status.ReadyReplicas >= want
}

type kube struct {
	py3        *module.Py3
	factory    ClientFactory
	kubeconfig string
	context    string
	namespace  string
	format     string

	mu      sync.Mutex
	client  Client
	ctxName string
}

// New is the module factory using the kubeconfig loading rules.
func New(py3 *module.Py3) (module.Module, error) {
	return NewWith(DefaultClientFactory)(py3)
}

// NewWith returns a module factory that connects through factory.
//
// Parameters: kubeconfig, context, namespace (empty for all), format.
// Placeholders: context, namespace, nodes, nodes_ready, pods, running,
// pending, succeeded, failed, unknown, deployments, deployments_ready.
func NewWith(factory ClientFactory) module.Factory {
	return func(py3 *module.Py3) (module.Module, error) {
		p := py3.Params()
		return &kube{
			py3:        py3,
			factory:    factory,
			kubeconfig: p.String("kubeconfig", ""),
			context:    p.String("context", ""),
			namespace:  p.String("namespace", ""),
			format:     p.String("format", defaultFormat),
		}, nil
	}
}

func (k *kube) Methods() []module.Method {
	return []module.Method{{Name: "kubernetes", Fn: k.update}}
}

// connect builds the client on first use and keeps it. A failed attempt is
// retried on the next update.
func (k *kube) connect() (Client, string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.client == nil {
		c, name, err := k.factory(k.kubeconfig, k.context)
		if err != nil {
			return nil, "", err
		}
		k.client, k.ctxName = c, name
	}
	return k.client, k.ctxName, nil
}

func (k *kube) update(ctx context.Context) (*module.Response, error) {
	client, ctxName, err := k.connect()
	if err != nil {
		return nil, err
	}

	var (
		nodes []corev1.Node
		pods  []corev1.Pod
		deps  []appsv1.Deployment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nodes, err = client.ListNodes(gctx)
		if err != nil {
			return fmt.Errorf("list nodes: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		pods, err = client.ListPods(gctx, k.namespace)
		if err != nil {
			return fmt.Errorf("list pods: %w", err)
		}
		return nil
	})
	if k.py3.FormatContains(k.format, "deployments") || k.py3.FormatContains(k.format, "deployments_ready") {
		g.Go(func() error {
			var err error
			deps, err = client.ListDeployments(gctx, k.namespace)
			if err != nil {
				return fmt.Errorf("list deployments: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ready := 0
	for i := range nodes {
		if NodeReady(&nodes[i]) {
			ready++
		}
	}
	depsReady := 0
	for i := range deps {
		if DeploymentReady(&deps[i]) {
			depsReady++
		}
	}
	pc := CountPods(pods)

	color := k.py3.Color("good")
	switch {
	case ready < len(nodes) || pc.Failed > 0:
		color = k.py3.Color("bad")
	case pc.Pending > 0 || depsReady < len(deps):
		color = k.py3.Color("degraded")
	}

	namespace := k.namespace
	if namespace == "" {
		namespace = "all"
	}
	return &module.Response{
		Composite: k.py3.SafeFormat(k.format, map[string]any{
			"context":           ctxName,
			"namespace":         namespace,
			"nodes":             len(nodes),
			"nodes_ready":       ready,
			"pods":              pc.Total,
			"running":           pc.Running,
			"pending":           pc.Pending,
			"succeeded":         pc.Succeeded,
			"failed":            pc.Failed,
			"unknown":           pc.Unknown,
			"deployments":       len(deps),
			"deployments_ready": depsReady,
		}),
		Attrs: map[string]any{"color": color},
	}, nil
}
