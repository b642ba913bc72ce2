package evaluation

import "regexp"

// churnLexicon matches the Hebrew churn vocabulary mined from retention
// calls: leave/cancel/disconnect/port intents, price and service
// complaints, and competitor names.
var churnLexicon = regexp.MustCompile(
	`(לעזוב|לבטל|מתחרים|יקר|גרוע|לסיים|להפסיק|לעבור|מחיר|תלונה|ביטול|עוזב|` +
		`לנתק|ניוד|גולן|הוט|סלקום|פרטנר|להחליף|לצאת|לנייד|לא מרוצה|שירות גרוע)`)
