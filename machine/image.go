package machine

// Section is one loadable section of a program image
type Section interface {
	Name() string
	// FirstVPN is the virtual page the section starts at
	FirstVPN() int
	// Length is the section size in pages
	Length() int
	ReadOnly() bool
	// LoadPage copies page i of the section into frame
	LoadPage(i int, frame []byte)
}

// Image is an executable as seen by the memory manager
type Image interface {
	NumSections() int
	Section(s int) Section
}

// StaticSection is a section whose contents live in memory
type StaticSection struct {
	SectionName string
	First       int
	Pages       int
	IsReadOnly  bool
	// Data holds the section bytes; pages past len(Data) load as zeros
	Data []byte
}

func (s *StaticSection) Name() string   { return s.SectionName }
func (s *StaticSection) FirstVPN() int  { return s.First }
func (s *StaticSection) Length() int    { return s.Pages }
func (s *StaticSection) ReadOnly() bool { return s.IsReadOnly }

// LoadPage copies page i into frame, zero-filling whatever Data does not cover
func (s *StaticSection) LoadPage(i int, frame []byte) {
	start := i * len(frame)
	n := 0
	if start < len(s.Data) {
		n = copy(frame, s.Data[start:])
	}
	clear(frame[n:])
}

// StaticImage is an Image built from in-memory sections
type StaticImage struct {
	sections []*StaticSection
}

// NewStaticImage creates an image from the given sections in order
func NewStaticImage(sections ...*StaticSection) *StaticImage {
	return &StaticImage{sections: sections}
}

func (img *StaticImage) NumSections() int { return len(img.sections) }

func (img *StaticImage) Section(s int) Section { return img.sections[s] }
