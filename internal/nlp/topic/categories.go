package topic

// Keyword は重み付きキーワード。
type Keyword struct {
	Term   string
	Weight float64
}

// Category はトピックカテゴリとそのキーワード一覧。
type Category struct {
	Name     string
	Keywords []Keyword
}

// General はどのカテゴリにも十分一致しない場合のカテゴリ名。
const General = "general"

// DefaultCategories は優先順に並んだ既定のカテゴリ。
// 同点の場合は先に現れるカテゴリを採用する。
func DefaultCategories() []Category {
	return []Category{
		{Name: "treatment", Keywords: []Keyword{
			{"treatment", 3}, {"therapy", 3}, {"drug", 2}, {"medication", 2},
			{"approved", 2}, {"approval", 2}, {"dose", 1}, {"vaccine", 2},
			{"immunotherapy", 3}, {"chemotherapy", 3}, {"prescription", 1},
		}},
		{Name: "research", Keywords: []Keyword{
			{"study", 3}, {"research", 3}, {"clinical trial", 3}, {"trial", 2},
			{"researchers", 2}, {"findings", 2}, {"journal", 1}, {"published", 1},
			{"scientists", 2}, {"data", 1},
		}},
		{Name: "surgery", Keywords: []Keyword{
			{"surgery", 3}, {"surgical", 3}, {"surgeon", 2}, {"operation", 2},
			{"transplant", 3}, {"robotic", 1}, {"procedure", 1}, {"minimally invasive", 2},
		}},
		{Name: "diagnosis", Keywords: []Keyword{
			{"diagnosis", 3}, {"diagnosed", 3}, {"diagnostic", 2}, {"biopsy", 2},
			{"imaging", 2}, {"mri", 2}, {"symptoms", 1}, {"detect", 1}, {"test", 1},
		}},
		{Name: "genetics", Keywords: []Keyword{
			{"gene", 3}, {"genetic", 3}, {"genome", 3}, {"dna", 2}, {"mutation", 2},
			{"crispr", 3}, {"hereditary", 2}, {"sequencing", 2},
		}},
		{Name: "lifestyle", Keywords: []Keyword{
			{"diet", 3}, {"exercise", 3}, {"nutrition", 2}, {"sleep", 2},
			{"obesity", 2}, {"smoking", 2}, {"alcohol", 2}, {"weight loss", 2},
		}},
		{Name: "screening", Keywords: []Keyword{
			{"screening", 3}, {"mammogram", 3}, {"colonoscopy", 3}, {"early detection", 3},
			{"checkup", 2}, {"pap smear", 2}, {"prevention", 1},
		}},
		{Name: "support", Keywords: []Keyword{
			{"support group", 3}, {"caregiver", 3}, {"patient advocacy", 2}, {"mental health", 2},
			{"counseling", 2}, {"survivors", 2}, {"palliative", 2}, {"community", 1},
		}},
		{Name: "policy", Keywords: []Keyword{
			{"policy", 3}, {"regulation", 3}, {"legislation", 3}, {"insurance", 2},
			{"medicare", 2}, {"medicaid", 2}, {"government", 2}, {"fda", 1},
			{"funding", 1}, {"law", 2},
		}},
	}
}
