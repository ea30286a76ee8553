package event

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
	customclient "k8s.io/metrics/pkg/client/custom_metrics"

	"github.com/replifs/afr/cmn/nlog"
)

// K8sSource is an optional alternate liveness signal: instead of (or
// alongside) RPC-level disconnect detection, watch each child's backing
// Pod for readiness transitions and feed them to Router (spec §11
// domain-stack wiring of k8s.io/client-go + k8s.io/api + k8s.io/apimachinery).
type K8sSource struct {
	Router      *Router
	Clientset   kubernetes.Interface
	Namespace   string
	ChildByPod  map[string]int // pod name -> child index

	custom customclient.CustomMetricsClient
}

// NewK8sSource wires custom to the Kubernetes custom-metrics API so
// CHILD_DOWN duration can be cross-checked against an external monitoring
// pipeline's own view (k8s.io/metrics), independent of this daemon's own
// Prometheus gauges.
func NewK8sSource(clientset kubernetes.Interface, custom customclient.CustomMetricsClient, namespace string, childByPod map[string]int, router *Router) *K8sSource {
	return &K8sSource{
		Router:     router,
		Clientset:  clientset,
		Namespace:  namespace,
		ChildByPod: childByPod,
		custom:     custom,
	}
}

// Run starts the Pod informer and blocks until ctx is canceled.
func (k *K8sSource) Run(ctx context.Context) {
	factory := informers.NewSharedInformerFactoryWithOptions(
		k.Clientset, 30*time.Second,
		informers.WithNamespace(k.Namespace),
	)
	podInformer := factory.Core().V1().Pods().Informer()

	_, err := podInformer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		UpdateFunc: func(_, newObj interface{}) {
			pod, ok := newObj.(*corev1.Pod)
			if !ok {
				return
			}
			child, ok := k.ChildByPod[pod.Name]
			if !ok {
				return
			}
			if podReady(pod) {
				k.Router.Observe(child, ChildUp)
			} else {
				k.Router.Observe(child, ChildDown)
			}
		},
		DeleteFunc: func(obj interface{}) {
			pod, ok := obj.(*corev1.Pod)
			if !ok {
				return
			}
			if child, ok := k.ChildByPod[pod.Name]; ok {
				k.Router.Observe(child, ChildDown)
			}
		},
	})
	if err != nil {
		nlog.Errorf("event: k8s pod informer: %v", err)
		return
	}

	factory.Start(ctx.Done())
	factory.WaitForCacheSync(ctx.Done())
	<-ctx.Done()
}

func podReady(pod *corev1.Pod) bool {
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

// ChildDownDuration reports how long child has been down according to the
// external custom-metrics pipeline's "afr_child_down_seconds" series, if
// one is configured, independent of this process's own uptime bookkeeping.
func (k *K8sSource) ChildDownDuration(ctx context.Context, podName string) (time.Duration, error) {
	if k.custom == nil {
		return 0, nil
	}
	gvr := corev1.SchemeGroupVersion.WithResource("pods")
	sel, err := metav1.ParseToLabelSelector("app=afr-child")
	if err != nil {
		return 0, err
	}
	labelSel, err := metav1.LabelSelectorAsSelector(sel)
	if err != nil {
		return 0, err
	}
	values, err := k.custom.NamespacedMetrics(k.Namespace).GetForObjects(gvr.GroupResource(), labelSel, "afr_child_down_seconds", labels.Everything())
	if err != nil || values == nil || len(values.Items) == 0 {
		return 0, err
	}
	return time.Duration(values.Items[0].Value.Value()) * time.Second, nil
}
