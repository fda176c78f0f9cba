// Copyright Contributors to the AgentRun project

//go:build integration

package e2e

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
	"github.com/agentrun-io/agentrun/internal/naming"
)

var _ = Describe("CodeRun", func() {

	Context("a code run for a service", func() {
		It("provisions a persistent workspace and starts the task Job", func() {
			runName := uniqueName("code-e2e")
			service := uniqueName("svc")

			By("creating the CodeRun")
			run := &agentrunv1alpha1.CodeRun{
				ObjectMeta: metav1.ObjectMeta{
					Name:      runName,
					Namespace: testNS,
				},
				Spec: agentrunv1alpha1.CodeRunSpec{
					TaskID:            1,
					Service:           service,
					RepositoryURL:     "https://github.com/octocat/Hello-World.git",
					DocsRepositoryURL: "https://github.com/octocat/Hello-World.git",
					GithubUser:        "octocat",
					ContextVersion:    1,
				},
			}
			Expect(k8sClient.Create(ctx, run)).To(Succeed())

			runKey := types.NamespacedName{Name: runName, Namespace: testNS}

			By("waiting for the run to start")
			Eventually(func() agentrunv1alpha1.RunPhase {
				current := &agentrunv1alpha1.CodeRun{}
				if err := k8sClient.Get(ctx, runKey, current); err != nil {
					return ""
				}
				return current.Status.Phase
			}, timeout, interval).Should(Equal(agentrunv1alpha1.RunPhaseRunning))

			By("verifying the per-service workspace claim exists")
			pvc := &corev1.PersistentVolumeClaim{}
			pvcKey := types.NamespacedName{Name: naming.WorkspaceName(service), Namespace: testNS}
			Expect(k8sClient.Get(ctx, pvcKey, pvc)).To(Succeed())
			Expect(pvc.OwnerReferences).To(BeEmpty())

			current := &agentrunv1alpha1.CodeRun{}
			Expect(k8sClient.Get(ctx, runKey, current)).To(Succeed())

			By("verifying the Job mounts the workspace")
			job := &batchv1.Job{}
			jobKey := types.NamespacedName{Name: naming.CodeJobName(current), Namespace: testNS}
			Expect(k8sClient.Get(ctx, jobKey, job)).To(Succeed())
			var claimed bool
			for _, v := range job.Spec.Template.Spec.Volumes {
				if v.PersistentVolumeClaim != nil && v.PersistentVolumeClaim.ClaimName == pvc.Name {
					claimed = true
				}
			}
			Expect(claimed).To(BeTrue(), "job should mount the workspace claim")

			By("deleting the run and verifying the workspace survives")
			Expect(k8sClient.Delete(ctx, run)).To(Succeed())
			Eventually(func() bool {
				err := k8sClient.Get(ctx, runKey, &agentrunv1alpha1.CodeRun{})
				return err != nil
			}, timeout, interval).Should(BeTrue())
			Expect(k8sClient.Get(ctx, pvcKey, pvc)).To(Succeed())
		})
	})
})
