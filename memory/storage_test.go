package memory_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmsim/memory"
)

var _ = Describe("Storage", func() {
	It("should read and write in single unit", func() {
		storage := memory.NewStorage(4096)
		Expect(storage.Write(0, []byte{1, 2, 3, 4})).To(Succeed())

		res, _ := storage.Read(0, 2)
		Expect(res).To(Equal([]byte{1, 2}))

		res, _ = storage.Read(1, 2)
		Expect(res).To(Equal([]byte{2, 3}))
	})

	It("should read and write across units", func() {
		storage := memory.NewStorage(8192)
		Expect(storage.Write(4094, []byte{1, 2, 3, 4})).To(Succeed())

		res, _ := storage.Read(4094, 4)
		Expect(res).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should return error if accessing over the capacity", func() {
		storage := memory.NewStorage(4096)
		err := storage.Write(4097, []byte{1})
		Expect(err).To(MatchError(memory.ErrBeyondCapacity))

		_, err = storage.Read(4096, 1)
		Expect(err).To(MatchError(memory.ErrBeyondCapacity))
	})

	It("should expose units that alias the storage", func() {
		storage := memory.NewStorage(8192)

		unit, err := storage.Unit(4100)
		Expect(err).NotTo(HaveOccurred())
		Expect(unit).To(HaveLen(4096))

		unit[4] = 9
		res, _ := storage.Read(4100, 1)
		Expect(res).To(Equal([]byte{9}))
	})
})
