package scoring

// dfoTerms mark regional relevance to the Russian Far East. Matching is by
// substring over folded text, so stems are enough.
var dfoTerms = []string{
	"дальний восток", "дфо", "крдк", "крдв", "спв", "свободный порт", "тор", "вэф",
	"приморск", "хабаровск", "амурск", "сахалин", "якут", "саха", "камчат", "магадан", "чукот",
	"еврейск", "еао", "забайкал", "бурят",
	"владивосток", "находк", "артем", "уссурийск", "большой камень", "порт восточный",
	"комсомольск-на-амуре", "благовещенск", "южно-сахалинск", "петропавловск-камчатск",
	"анадырь", "нерюнгри", "чита", "улан-удэ",
}

var businessTerms = []string{
	"инвестици", "проект", "строительств", "завод", "производств", "контракт", "сделк",
	"акци", "доля", "прибыл", "выручк", "банкрот", "торги", "концесс",
	"логист", "порт", "терминал", "экспорт", "импорт", "резидент", "предприят",
	"поставк", "тариф", "кредит", "финансир", "инфраструктур",
}

// companyWords must match a whole word; companyStems match a word prefix.
var (
	companyWords = map[string]struct{}{
		"пао": {}, "оао": {}, "зао": {}, "ооо": {}, "ао": {}, "гк": {}, "банк": {}, "холдинг": {},
	}
	companyStems = []string{"корпорац"}
)

// DefaultExcludeTerms keeps military coverage out of digests and news listings.
var DefaultExcludeTerms = []string{
	"всу", "сво", "украин", "обстрел", "удар", "дрон", "бпла", "fpv", "ракет", "пво",
	"фронт", "боев", "военн", "миномет", "артиллер", "снайпер", "пехот", "противник",
	"тыл", "диверс", "мобилиз", "оккупац",
}

// hitThresholds convert a hit count into a 0..4 score.
var hitThresholds = []int{1, 2, 4, 7}
