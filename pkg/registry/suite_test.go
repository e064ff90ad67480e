/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package registry_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/matterminers/tardis/pkg/agents"
	"github.com/matterminers/tardis/pkg/registry"
)

var (
	ctx context.Context
	reg *registry.InMemory
)

func TestRegistry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Registry")
}

var _ = BeforeEach(func() {
	ctx = context.Background()
	reg = registry.NewInMemory()
})

var _ = Describe("InMemory", func() {
	attributes := agents.ResourceAttributes{ResourceID: "id-1", DNSName: "node-1.example.org"}
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	It("should report unknown drones as absent", func() {
		_, ok, err := reg.GetResourceState(ctx, "testsite-0123456789")
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
	It("should record a transition and serve it back", func() {
		Expect(reg.Upsert(ctx, "testsite-0123456789", "Booting", attributes, t0)).To(Succeed())

		state, ok, err := reg.GetResourceState(ctx, "testsite-0123456789")
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(state).To(Equal("Booting"))

		resources, err := reg.GetResources(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(resources).To(HaveLen(1))
		Expect(resources[0]).To(Equal(registry.Resource{
			DroneUUID:  "testsite-0123456789",
			State:      "Booting",
			Site:       "testsite",
			ResourceID: "id-1",
			DNSName:    "node-1.example.org",
			LastSeen:   t0,
		}))
	})
	It("should only refresh the timestamp on identical self-loops", func() {
		Expect(reg.Upsert(ctx, "testsite-0123456789", "Booting", attributes, t0)).To(Succeed())
		Expect(reg.Upsert(ctx, "testsite-0123456789", "Booting", attributes, t1)).To(Succeed())

		resources, err := reg.GetResources(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(resources).To(HaveLen(1))
		Expect(resources[0].LastSeen).To(Equal(t1))
	})
	It("should rewrite the record when state or attributes change", func() {
		Expect(reg.Upsert(ctx, "testsite-0123456789", "Booting", attributes, t0)).To(Succeed())
		updated := attributes.Merge(agents.ResourceAttributes{ResourceStatus: agents.ResourceStatusRunning})
		Expect(reg.Upsert(ctx, "testsite-0123456789", "Integrate", updated, t1)).To(Succeed())

		state, ok, err := reg.GetResourceState(ctx, "testsite-0123456789")
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(state).To(Equal("Integrate"))
	})
	It("should list drones sorted by uuid", func() {
		Expect(reg.Upsert(ctx, "othersite-bbbbbbbbbb", "Down", agents.ResourceAttributes{}, t0)).To(Succeed())
		Expect(reg.Upsert(ctx, "testsite-aaaaaaaaaa", "Available", agents.ResourceAttributes{}, t0)).To(Succeed())

		resources, err := reg.GetResources(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(resources).To(HaveLen(2))
		Expect(resources[0].DroneUUID).To(Equal("othersite-bbbbbbbbbb"))
		Expect(resources[0].Site).To(Equal("othersite"))
		Expect(resources[1].DroneUUID).To(Equal("testsite-aaaaaaaaaa"))
		Expect(resources[1].Site).To(Equal("testsite"))
	})
})
