package seeddiscovery

import (
	"context"
	"fmt"
	"time"

	"github.com/gluk-w/mongostopo/internal/proxyhandle"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// KubernetesProvider lists ready addresses behind a named Service's
// Endpoints object and turns them into seed endpoints. Client
// construction prefers in-cluster config and falls back to the
// local kubeconfig.
type KubernetesProvider struct {
	clientset   *kubernetes.Clientset
	namespace   string
	serviceName string
}

// NewKubernetesProvider builds a client-go Clientset, preferring
// in-cluster config (when running as a pod) and falling back to
// $KUBECONFIG or ~/.kube/config otherwise.
func NewKubernetesProvider(namespace, serviceName string) (*KubernetesProvider, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename()
		if home := homedir.HomeDir(); home != "" && kubeconfig == "" {
			kubeconfig = home + "/.kube/config"
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("seeddiscovery: k8s config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("seeddiscovery: k8s clientset: %w", err)
	}

	return &KubernetesProvider{clientset: clientset, namespace: namespace, serviceName: serviceName}, nil
}

// List reads the named Service's Endpoints and returns one seed per
// ready subset address, on the subset's first port that is named
// "mongos" or unnamed (else its first port). Not-ready addresses are
// skipped: a pod still
// failing its readiness probe is not yet a usable mongos router.
func (p *KubernetesProvider) List(ctx context.Context) ([]proxyhandle.Seed, error) {
	ep, err := p.clientset.CoreV1().Endpoints(p.namespace).Get(ctx, p.serviceName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("seeddiscovery: get endpoints %s/%s: %w", p.namespace, p.serviceName, err)
	}

	var seeds []proxyhandle.Seed
	for _, subset := range ep.Subsets {
		port := subsetPort(subset.Ports)
		if port == 0 {
			continue
		}
		for _, addr := range subset.Addresses {
			seeds = append(seeds, proxyhandle.Seed{Host: addr.IP, Port: port})
		}
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("seeddiscovery: no ready addresses behind %s/%s", p.namespace, p.serviceName)
	}
	return seeds, nil
}

func subsetPort(ports []corev1.EndpointPort) int {
	for _, p := range ports {
		if p.Name == "mongos" || p.Name == "" {
			return int(p.Port)
		}
	}
	if len(ports) > 0 {
		return int(ports[0].Port)
	}
	return 0
}

// Poll runs List every interval, sending each result (and any error)
// on the returned channel until ctx is canceled. The interval is the
// caller's; the demo binary calls List once and does not use Poll.
func (p *KubernetesProvider) Poll(ctx context.Context, interval time.Duration) <-chan PollResult {
	out := make(chan PollResult, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			seeds, err := p.List(ctx)
			select {
			case out <- PollResult{Seeds: seeds, Err: err}:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// PollResult is one tick of KubernetesProvider.Poll.
type PollResult struct {
	Seeds []proxyhandle.Seed
	Err   error
}
