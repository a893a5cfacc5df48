// Package kube taints and labels the nodes of an LKE node pool.
package kube

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	"k8s.io/client-go/util/retry"

	"bulkops/internal/job"
	"bulkops/internal/logging"
)

// PoolLabel is set by LKE on every node to its node pool ID.
const PoolLabel = "lke.linode.com/pool-id"

// NewClientset builds a clientset from kubeconfigPath, falling back to
// ~/.kube/config and then the in-cluster config.
func NewClientset(kubeconfigPath string) (*kubernetes.Clientset, error) {
	if kubeconfigPath == "" {
		if home := homedir.HomeDir(); home != "" {
			kubeconfigPath = filepath.Join(home, ".kube", "config")
		}
	}

	var (
		config *rest.Config
		err    error
	)
	if kubeconfigPath != "" {
		if _, statErr := os.Stat(kubeconfigPath); statErr == nil {
			config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
			if err != nil {
				return nil, fmt.Errorf("load kubeconfig %s: %w", kubeconfigPath, err)
			}
		}
	}
	if config == nil {
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("create in-cluster config: %w", err)
		}
	}

	return kubernetes.NewForConfig(config)
}

// ParseTaint parses key=value:Effect. The value may be empty.
func ParseTaint(s string) (corev1.Taint, error) {
	kv, effect, ok := strings.Cut(s, ":")
	if !ok {
		return corev1.Taint{}, fmt.Errorf("taint %q: missing effect", s)
	}
	key, value, _ := strings.Cut(kv, "=")
	if key == "" {
		return corev1.Taint{}, fmt.Errorf("taint %q: empty key", s)
	}

	taint := corev1.Taint{Key: key, Value: value, Effect: corev1.TaintEffect(effect)}
	switch taint.Effect {
	case corev1.TaintEffectNoSchedule, corev1.TaintEffectPreferNoSchedule, corev1.TaintEffectNoExecute:
		return taint, nil
	default:
		return corev1.Taint{}, fmt.Errorf("taint %q: unknown effect %q", s, effect)
	}
}

// ParseLabel parses key=value.
func ParseLabel(s string) (key, value string, err error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return "", "", fmt.Errorf("label %q: want key=value", s)
	}
	return key, value, nil
}

// PoolNodes enumerates the names of the nodes in one node pool.
func PoolNodes(client kubernetes.Interface, poolID string) job.Enumerator[string] {
	return func(ctx context.Context, emit func(string) error) error {
		selector := labels.SelectorFromSet(labels.Set{PoolLabel: poolID}).String()
		nodes, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return fmt.Errorf("list nodes in pool %s: %w", poolID, err)
		}

		logging.FromContext(ctx).Info("Found pool nodes", "pool", poolID, "nodes", len(nodes.Items))
		for _, node := range nodes.Items {
			if err := emit(node.Name); err != nil {
				return err
			}
		}
		return nil
	}
}

// Marker applies a taint and a label to nodes. Nil Taint or empty
// LabelKey disables that half.
type Marker struct {
	client     kubernetes.Interface
	Taint      *corev1.Taint
	LabelKey   string
	LabelValue string
}

func NewMarker(client kubernetes.Interface) *Marker {
	return &Marker{client: client}
}

// Mark is a job.Operation. A node that already has taints keeps them, and
// an existing label key is never overwritten.
func (m *Marker) Mark(ctx context.Context, j job.Job[string]) error {
	logger := logging.FromContext(ctx).WithValues("node", j.Payload)
	nodes := m.client.CoreV1().Nodes()

	return retry.RetryOnConflict(retry.DefaultBackoff, func() error {
		node, err := nodes.Get(ctx, j.Payload, metav1.GetOptions{})
		if err != nil {
			return fmt.Errorf("get node %s: %w", j.Payload, err)
		}

		changed := false
		if m.Taint != nil {
			if len(node.Spec.Taints) == 0 {
				node.Spec.Taints = []corev1.Taint{*m.Taint}
				changed = true
			} else {
				logger.V(logging.VERBOSE).Info("Node already tainted", "taints", len(node.Spec.Taints))
			}
		}
		if m.LabelKey != "" {
			if _, ok := node.Labels[m.LabelKey]; !ok {
				if node.Labels == nil {
					node.Labels = map[string]string{}
				}
				node.Labels[m.LabelKey] = m.LabelValue
				changed = true
			} else {
				logger.V(logging.VERBOSE).Info("Node already labelled", "key", m.LabelKey)
			}
		}
		if !changed {
			return nil
		}

		if _, err := nodes.Update(ctx, node, metav1.UpdateOptions{}); err != nil {
			return err
		}
		logger.Info("Updated node")
		return nil
	})
}
