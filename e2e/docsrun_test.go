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

var _ = Describe("DocsRun", func() {

	Context("a docs run against a public repository", func() {
		It("materializes a Job and a task-file bundle and reaches Running", func() {
			runName := uniqueName("docs-e2e")

			By("creating the DocsRun")
			run := &agentrunv1alpha1.DocsRun{
				ObjectMeta: metav1.ObjectMeta{
					Name:      runName,
					Namespace: testNS,
				},
				Spec: agentrunv1alpha1.DocsRunSpec{
					RepositoryURL:    "https://github.com/octocat/Hello-World.git",
					WorkingDirectory: ".",
					SourceBranch:     "master",
					GithubUser:       "octocat",
				},
			}
			Expect(k8sClient.Create(ctx, run)).To(Succeed())

			runKey := types.NamespacedName{Name: runName, Namespace: testNS}

			By("waiting for the run to start")
			Eventually(func() agentrunv1alpha1.RunPhase {
				current := &agentrunv1alpha1.DocsRun{}
				if err := k8sClient.Get(ctx, runKey, current); err != nil {
					return ""
				}
				return current.Status.Phase
			}, timeout, interval).Should(Equal(agentrunv1alpha1.RunPhaseRunning))

			current := &agentrunv1alpha1.DocsRun{}
			Expect(k8sClient.Get(ctx, runKey, current)).To(Succeed())

			By("verifying the Job carries the standard labels and owner")
			job := &batchv1.Job{}
			jobKey := types.NamespacedName{Name: naming.DocsJobName(current), Namespace: testNS}
			Expect(k8sClient.Get(ctx, jobKey, job)).To(Succeed())
			Expect(job.Labels).To(HaveKeyWithValue("app", "agentrun"))
			Expect(job.Labels).To(HaveKeyWithValue("component", "docs-generator"))
			Expect(job.OwnerReferences).To(HaveLen(1))
			Expect(job.OwnerReferences[0].Kind).To(Equal("DocsRun"))

			By("verifying the bundle is owned by the Job")
			cm := &corev1.ConfigMap{}
			cmKey := types.NamespacedName{Name: naming.DocsConfigMapName(current), Namespace: testNS}
			Expect(k8sClient.Get(ctx, cmKey, cm)).To(Succeed())
			Expect(cm.Data).To(HaveKey("container.sh"))
			Expect(cm.Data).To(HaveKey("prompt.md"))

			By("cleaning up")
			Expect(k8sClient.Delete(ctx, run)).To(Succeed())

			By("verifying the Job is swept on deletion")
			Eventually(func() bool {
				err := k8sClient.Get(ctx, jobKey, &batchv1.Job{})
				return err != nil
			}, timeout, interval).Should(BeTrue())
		})
	})
})
