package vfile_test

import (
	"io"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmsim/mem/vm/vfile"
)

var _ = Describe("MemFile", func() {
	var file *vfile.MemFile

	BeforeEach(func() {
		file = vfile.NewMemFile("data", []byte("hello world"))
	})

	It("should read with EOF at the end", func() {
		buf := make([]byte, 8)
		n, err := file.ReadAt(buf, 6)

		Expect(n).To(Equal(5))
		Expect(err).To(Equal(io.EOF))
		Expect(buf[:n]).To(Equal([]byte("world")))
	})

	It("should share content across handles", func() {
		other, err := file.Reopen()
		Expect(err).NotTo(HaveOccurred())
		Expect(file.NumOpen()).To(Equal(2))

		_, err = other.WriteAt([]byte("W"), 6)
		Expect(err).NotTo(HaveOccurred())
		Expect(other.Close()).To(Succeed())

		Expect(file.Content()).To(Equal([]byte("hello World")))
		Expect(file.Writes()).To(Equal([]vfile.WriteRecord{
			{Offset: 6, Length: 1},
		}))
		Expect(file.NumOpen()).To(Equal(1))
	})

	It("should not grow", func() {
		n, err := file.WriteAt([]byte("!!"), 10)

		Expect(n).To(Equal(1))
		Expect(err).To(Equal(io.ErrShortWrite))
		Expect(file.Length()).To(Equal(int64(11)))
	})

	It("should refuse closed handles", func() {
		Expect(file.Close()).To(Succeed())
		Expect(file.Close()).To(MatchError(vfile.ErrClosed))

		_, err := file.Reopen()
		Expect(err).To(MatchError(vfile.ErrClosed))
	})
})

var _ = Describe("OSFile", func() {
	It("should reopen host files", func() {
		path := filepath.Join(GinkgoT().TempDir(), "data.bin")
		Expect(os.WriteFile(path, []byte("abcdef"), 0o644)).To(Succeed())

		file, err := vfile.Open(path)
		Expect(err).NotTo(HaveOccurred())
		defer file.Close()

		Expect(file.Length()).To(Equal(int64(6)))

		other, err := file.Reopen()
		Expect(err).NotTo(HaveOccurred())
		defer other.Close()

		_, err = other.WriteAt([]byte("X"), 2)
		Expect(err).NotTo(HaveOccurred())

		buf := make([]byte, 6)
		_, err = file.ReadAt(buf, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf).To(Equal([]byte("abXdef")))
	})
})
