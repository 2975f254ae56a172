package scaler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	autoscalingv1 "k8s.io/api/autoscaling/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ScaleClient applies a Decide-computed replica count to a Deployment's
// scale subresource, used only when KUBE_SCALE_TARGET is configured
// (spec §5a). In-cluster config is tried first, falling back to
// KUBECONFIG / ~/.kube/config, matching the teacher's
// agents/manager/internal/beam.newKubeClient resolution order.
type ScaleClient struct {
	client    *kubernetes.Clientset
	namespace string
}

// NewScaleClient builds a client targeted at "namespace/deployment".
func NewScaleClient(target string) (*ScaleClient, string, error) {
	parts := strings.SplitN(target, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, "", fmt.Errorf("scaler: KUBE_SCALE_TARGET must be namespace/deployment, got %q", target)
	}
	namespace, deployment := parts[0], parts[1]

	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := strings.TrimSpace(os.Getenv("KUBECONFIG"))
		if kubeconfig == "" {
			if home, homeErr := os.UserHomeDir(); homeErr == nil && home != "" {
				kubeconfig = filepath.Join(home, ".kube", "config")
			}
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, "", err
		}
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, "", err
	}
	return &ScaleClient{client: clientset, namespace: namespace}, deployment, nil
}

// Apply sets the named deployment's replica count via the scale
// subresource.
func (s *ScaleClient) Apply(ctx context.Context, deployment string, replicas int) error {
	scale := &autoscalingv1.Scale{
		ObjectMeta: metav1.ObjectMeta{Name: deployment, Namespace: s.namespace},
		Spec:       autoscalingv1.ScaleSpec{Replicas: int32(replicas)},
	}
	_, err := s.client.AppsV1().Deployments(s.namespace).UpdateScale(ctx, deployment, scale, metav1.UpdateOptions{})
	return err
}
